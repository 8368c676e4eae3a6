// ABOUTME: Discovery loop turning subsystem notifications into registry changes and events
// ABOUTME: Runs as a single goroutine so add/remove handling is strictly ordered
package engine

import (
	"context"
	"log"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/registry"
	"github.com/google/uuid"
)

func (e *Engine) discover() {
	defer e.wg.Done()

	notes := make(chan graph.Notification, 64)
	go func() {
		if err := e.source.Run(e.ctx, notes); err != nil && e.ctx.Err() == nil {
			log.Printf("Discovery stopped: %v", err)
		}
	}()

	for {
		select {
		case <-e.ctx.Done():
			return
		case n := <-notes:
			switch n.Op {
			case graph.NodeAdded:
				e.nodeAdded(e.ctx, n.Node)
			case graph.NodeRemoved:
				e.nodeRemoved(e.ctx, n.Node.Handle)
			}
		}
	}
}

func (e *Engine) nodeAdded(_ context.Context, node graph.Node) {
	kind, ok := e.config.Policy.Classify(node)
	if !ok {
		return
	}
	if _, known := e.registry.Resolve(node.Handle); known {
		return
	}

	if kind.Role == graph.RolePhysicalSink && e.registry.IsParked(kind.Description) {
		log.Printf("Parking %q (%s): it belongs to an active cluster", kind.Description, node.Handle)
		e.registry.Park(kind.Description, registry.ParkedNode{Handle: node.Handle, NodeName: node.Name})
		return
	}

	id := uuid.New()
	if err := e.registry.Register(id, node.Handle, node.Name, kind); err != nil {
		log.Printf("Failed to register %s: %v", node.Handle, err)
		return
	}
	e.registry.Show(id)

	orb, ok := e.registry.Snapshot(id)
	if !ok {
		return
	}
	log.Printf("Discovered %s %q (%s)", kind.Role, orb.Name, node.Handle)
	e.publish(graph.AddEvent(orb))
}

func (e *Engine) nodeRemoved(ctx context.Context, handle graph.Handle) {
	if e.registry.DropParkedHandle(handle) {
		log.Printf("Parked device %s went away", handle)
		return
	}

	id, ok := e.registry.Resolve(handle)
	if !ok {
		return
	}

	// A hidden physical sink is serving a cluster
	if kind, ok := e.registry.Kind(id); ok && kind.Role == graph.RolePhysicalSink && !e.registry.IsVisible(id) {
		e.manager.MemberLost(ctx, kind.Description)
	}

	visible := e.registry.Hide(id)
	e.registry.Unregister(id)
	if visible {
		e.publish(graph.RemoveEvent(id))
	}
}
