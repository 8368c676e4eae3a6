// ABOUTME: Command dispatcher routing UI commands by the roles of their endpoints
// ABOUTME: Runs commands on a bounded pool; Shutdown stops intake and tears clusters down
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/registry"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the number of commands allowed in flight at once
const DefaultWorkers = 10

var (
	// ErrInvalidConnection means the role pair of a Connect has no action
	ErrInvalidConnection = errors.New("invalid connection")

	// ErrUnknownIdentity means a command names an identity that is not registered
	ErrUnknownIdentity = errors.New("unknown identity")
)

// Clusters is the lifecycle manager as seen by the dispatcher
type Clusters interface {
	Create(ctx context.Context, descriptions []string) (uuid.UUID, error)
	AddMember(ctx context.Context, clusterID, deviceID uuid.UUID) (uuid.UUID, error)
	Merge(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error)
	Dissolve(ctx context.Context, clusterID uuid.UUID) error
	Shutdown(ctx context.Context) int
}

// Linker connects an application stream straight to an output
type Linker interface {
	Link(ctx context.Context, source, sink string) error
}

// Config holds dispatcher configuration
type Config struct {
	Workers int
}

// Dispatcher executes commands against the registry and lifecycle manager
type Dispatcher struct {
	config   Config
	registry *registry.Registry
	clusters Clusters
	linker   Linker
	pool     *semaphore.Weighted
	wg       sync.WaitGroup
}

// New creates a dispatcher
func New(config Config, reg *registry.Registry, clusters Clusters, linker Linker) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	return &Dispatcher{
		config:   config,
		registry: reg,
		clusters: clusters,
		linker:   linker,
		pool:     semaphore.NewWeighted(int64(config.Workers)),
	}
}

// Run consumes commands until Shutdown arrives, commands closes or ctx ends.
// Shutdown runs inline: nothing after it is accepted, and the teardown waits
// for commands already on the pool so none of them loads a sink afterwards.
func (d *Dispatcher) Run(ctx context.Context, commands <-chan graph.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if cmd.Op == graph.OpShutdown {
				log.Printf("Shutdown requested, no longer accepting commands")
				d.Wait()
				d.report(cmd, d.Execute(context.WithoutCancel(ctx), cmd))
				return
			}
			if err := d.Submit(ctx, cmd); err != nil {
				log.Printf("Dropping %s: %v", cmd, err)
			}
		}
	}
}

// Submit runs cmd on the pool, waiting for a free slot
func (d *Dispatcher) Submit(ctx context.Context, cmd graph.Command) error {
	if err := d.pool.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for a free worker: %w", err)
	}

	// Once dispatched a command runs to completion
	run := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.pool.Release(1)
		d.report(cmd, d.Execute(run, cmd))
	}()
	return nil
}

// Wait blocks until every submitted command has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) report(cmd graph.Command, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidConnection):
		log.Printf("Warning: rejected %s: %v", cmd, err)
	case errors.Is(err, ErrUnknownIdentity):
		log.Printf("Ignoring %s: %v", cmd, err)
	default:
		log.Printf("Command %s failed: %v", cmd, err)
	}
}

// Execute runs one command to completion
func (d *Dispatcher) Execute(ctx context.Context, cmd graph.Command) error {
	switch cmd.Op {
	case graph.OpConnect:
		return d.connect(ctx, cmd.Source, cmd.Target)
	case graph.OpDisconnect:
		return d.disconnect(ctx, cmd.Source)
	case graph.OpShutdown:
		n := d.clusters.Shutdown(ctx)
		log.Printf("Unloaded %d cluster sinks", n)
		return nil
	default:
		return fmt.Errorf("unsupported command %s", cmd.Op)
	}
}

func (d *Dispatcher) kind(id uuid.UUID) (graph.Kind, error) {
	kind, ok := d.registry.Kind(id)
	if !ok {
		return graph.Kind{}, fmt.Errorf("%s: %w", id, ErrUnknownIdentity)
	}
	return kind, nil
}

// connect interprets Connect by the roles of both endpoints at dispatch time
func (d *Dispatcher) connect(ctx context.Context, a, b uuid.UUID) error {
	if a == b {
		return fmt.Errorf("connect %s to itself: %w", a, ErrInvalidConnection)
	}
	ka, err := d.kind(a)
	if err != nil {
		return err
	}
	kb, err := d.kind(b)
	if err != nil {
		return err
	}

	switch {
	case ka.Role == graph.RolePhysicalSink && kb.Role == graph.RolePhysicalSink:
		_, err = d.clusters.Create(ctx, []string{ka.Description, kb.Description})
	case ka.Role == graph.RolePhysicalSink && kb.Role == graph.RoleClusterSink:
		_, err = d.clusters.AddMember(ctx, b, a)
	case ka.Role == graph.RoleClusterSink && kb.Role == graph.RolePhysicalSink:
		_, err = d.clusters.AddMember(ctx, a, b)
	case ka.Role == graph.RoleClusterSink && kb.Role == graph.RoleClusterSink:
		_, err = d.clusters.Merge(ctx, a, b)
	case ka.Role == graph.RoleApplicationSource &&
		(kb.Role == graph.RolePhysicalSink || kb.Role == graph.RoleClusterSink):
		err = d.link(ctx, a, b)
	default:
		return fmt.Errorf("%s to %s: %w", ka.Role, kb.Role, ErrInvalidConnection)
	}
	return err
}

func (d *Dispatcher) link(ctx context.Context, source, sink uuid.UUID) error {
	sourceName, ok := d.registry.NodeName(source)
	if !ok {
		return fmt.Errorf("%s: %w", source, ErrUnknownIdentity)
	}
	sinkName, ok := d.registry.NodeName(sink)
	if !ok {
		return fmt.Errorf("%s: %w", sink, ErrUnknownIdentity)
	}
	return d.linker.Link(ctx, sourceName, sinkName)
}

// disconnect dissolves a cluster; the target is not needed
func (d *Dispatcher) disconnect(ctx context.Context, id uuid.UUID) error {
	kind, err := d.kind(id)
	if err != nil {
		return err
	}
	if kind.Role != graph.RoleClusterSink {
		return nil
	}
	return d.clusters.Dissolve(ctx, id)
}
