// ABOUTME: Cluster dissolution, member-loss recovery and shutdown teardown
// ABOUTME: Teardown is best-effort; local state is always cleaned up
package cluster

import (
	"context"
	"fmt"
	"log"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/registry"
	"github.com/google/uuid"
)

// Dissolve splits a cluster back into its member devices
func (m *Manager) Dissolve(ctx context.Context, clusterID uuid.UUID) error {
	members, err := m.members(clusterID)
	if err != nil {
		return err
	}
	log.Printf("Dissolving cluster %s %v", clusterID, members)
	m.dissolve(ctx, clusterID, members, "")
	return nil
}

// MemberLost dissolves the cluster that has description as a member, without
// restoring that member. It reports whether a cluster was affected.
func (m *Manager) MemberLost(ctx context.Context, description string) bool {
	clusterID, ok := m.registry.ClusterFor(description)
	if !ok {
		return false
	}
	members, err := m.members(clusterID)
	if err != nil {
		return false
	}

	log.Printf("Cluster member %q disappeared, dissolving cluster %s", description, clusterID)
	m.dissolve(ctx, clusterID, members, description)
	return true
}

// dissolve is shared by user-requested dissolution and member loss.
// lost is the member to leave out, or empty.
func (m *Manager) dissolve(ctx context.Context, clusterID uuid.UUID, members []string, lost string) {
	if target := m.chooseRestoreTarget(clusterID, members, lost); target != "" {
		m.restoreOutput(ctx, target)
	} else {
		log.Printf("No output to restore for cluster %s", clusterID)
	}

	m.unloadMix(ctx, clusterID)
	m.retire(clusterID)
	m.restoreMembers(members, lost)
}

// chooseRestoreTarget picks the output that takes over from the cluster: the
// default saved at creation if that device still exists, else the first
// remaining member, else nothing. The lost member's device is never chosen.
func (m *Manager) chooseRestoreTarget(clusterID uuid.UUID, members []string, lost string) string {
	var lostNode string
	if lost != "" {
		lostNode, _ = m.registry.ClaimedNode(lost)
	}

	saved, ok := m.registry.TakeDefault(clusterID)
	switch {
	case !ok || saved == "" || saved == lostNode:
	case !m.registry.HasNode(saved):
		log.Printf("Saved default output %s is gone, falling back to a member", saved)
	default:
		return saved
	}
	return m.fallbackTarget(members, lost)
}

func (m *Manager) fallbackTarget(members []string, lost string) string {
	for _, desc := range members {
		if desc == lost {
			continue
		}
		if node, ok := m.registry.ClaimedNode(desc); ok && node != "" {
			return node
		}
		return desc
	}
	return ""
}

func (m *Manager) restoreOutput(ctx context.Context, target string) {
	log.Printf("Restoring output to %s", target)
	if err := m.mixer.MoveAllStreams(ctx, target); err != nil {
		log.Printf("Failed to move streams to %s: %v", target, err)
	}
	if err := m.mixer.SetDefaultSink(ctx, target); err != nil {
		log.Printf("Failed to restore default output %s: %v", target, err)
	}
}

// unloadMix tears down the combine sink. A failure is logged and ignored; the
// module may already be gone and the startup purge catches real leaks.
func (m *Manager) unloadMix(ctx context.Context, clusterID uuid.UUID) {
	module, ok := m.registry.TakeModule(clusterID)
	if !ok {
		return
	}
	if err := m.mixer.UnloadModule(ctx, module); err != nil {
		log.Printf("%v", &MixFacilityError{Op: fmt.Sprintf("teardown of module %d", module), Err: err})
	}
}

// retire drops the cluster from the registry and retracts it
func (m *Manager) retire(clusterID uuid.UUID) {
	visible := m.registry.IsVisible(clusterID)
	m.registry.TakeDefault(clusterID)
	if _, ok := m.registry.Unregister(clusterID); ok && visible {
		m.publish(graph.RemoveEvent(clusterID))
	}
}

// restoreMembers releases claims and brings every member except lost back as
// a standalone device. A parked instance wins over the retained endpoint
// because the retained handle is older.
func (m *Manager) restoreMembers(members []string, lost string) {
	m.registry.Unclaim(members...)

	for _, desc := range members {
		if desc == lost {
			if _, ok := m.registry.Unpark(desc); ok {
				log.Printf("Discarding parked instance of lost member %q", desc)
			}
			continue
		}

		retained, hasRetained := m.registry.FindPhysical(desc)

		if parked, ok := m.registry.Unpark(desc); ok {
			if hasRetained && !m.registry.IsVisible(retained) {
				m.registry.Unregister(retained)
			}
			m.surfaceParked(desc, parked)
			continue
		}

		if !hasRetained {
			log.Printf("Member %q is gone, nothing to restore", desc)
			continue
		}
		if m.registry.IsVisible(retained) {
			continue
		}
		m.registry.Show(retained)
		if orb, ok := m.registry.Snapshot(retained); ok {
			m.publish(graph.AddEvent(orb))
		}
	}
}

// surfaceParked publishes a rediscovered device under a fresh identity
func (m *Manager) surfaceParked(desc string, parked registry.ParkedNode) {
	id := uuid.New()
	if err := m.registry.Register(id, parked.Handle, parked.NodeName, graph.PhysicalSink(desc)); err != nil {
		log.Printf("Failed to restore parked %q: %v", desc, err)
		return
	}
	m.registry.Show(id)
	if orb, ok := m.registry.Snapshot(id); ok {
		m.publish(graph.AddEvent(orb))
	}
}

// Shutdown unloads every cluster's combine sink without moving any stream.
// It returns how many were unloaded.
func (m *Manager) Shutdown(ctx context.Context) int {
	count := 0
	for clusterID, module := range m.registry.Modules() {
		if _, ok := m.registry.TakeModule(clusterID); !ok {
			continue
		}
		if err := m.mixer.UnloadModule(ctx, module); err != nil {
			log.Printf("Failed to unload cluster module %d: %v", module, err)
			continue
		}
		count++
	}
	return count
}
