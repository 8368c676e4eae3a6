// ABOUTME: Device orchestration engine wiring discovery, registry, clusters and commands
// ABOUTME: Owns the outbound event queue and the inbound command queue
package engine

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/Resonate-Protocol/auralis/internal/cluster"
	"github.com/Resonate-Protocol/auralis/internal/dispatch"
	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/pulse"
	"github.com/Resonate-Protocol/auralis/internal/registry"
)

// Facility is everything the engine needs from the audio subsystem
type Facility interface {
	cluster.Mixer
	dispatch.Linker
	PurgeStale(ctx context.Context, reserved []string, mockPrefix string) (int, error)
	LoadNullSink(ctx context.Context, sinkName, description string) (graph.ModuleID, error)
}

// MockDevice is a silent sink created at startup for testing without hardware
type MockDevice struct {
	Name        string
	Description string
}

// Config holds engine configuration
type Config struct {
	Workers       int
	EventBuffer   int
	CommandBuffer int
	Policy        registry.Policy
	Mix           pulse.MixParams
	SinkPrefix    string
	MockPrefix    string
	MockDevices   []MockDevice
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Workers:       dispatch.DefaultWorkers,
		EventBuffer:   256,
		CommandBuffer: 64,
		Policy:        registry.DefaultPolicy(),
		Mix:           pulse.DefaultMixParams(),
		SinkPrefix:    cluster.DefaultSinkPrefix,
		MockPrefix:    "Mock",
	}
}

// Engine is the device orchestration engine
type Engine struct {
	config     Config
	registry   *registry.Registry
	manager    *cluster.Manager
	dispatcher *dispatch.Dispatcher
	facility   Facility
	source     pulse.Source

	events   chan graph.Event
	commands chan graph.Command

	mockMu      sync.Mutex
	mockModules []graph.ModuleID

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine on top of an audio subsystem
func New(config Config, facility Facility, source pulse.Source) *Engine {
	defaults := DefaultConfig()
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaults.EventBuffer
	}
	if config.CommandBuffer <= 0 {
		config.CommandBuffer = defaults.CommandBuffer
	}
	if config.SinkPrefix == "" {
		config.SinkPrefix = defaults.SinkPrefix
	}
	if config.MockPrefix == "" {
		config.MockPrefix = defaults.MockPrefix
	}
	if config.Mix == (pulse.MixParams{}) {
		config.Mix = defaults.Mix
	}
	if config.Policy.ReservedPrefixes == nil {
		config.Policy.ReservedPrefixes = defaults.Policy.ReservedPrefixes
	}
	if config.Policy.NoiseApps == nil {
		config.Policy.NoiseApps = defaults.Policy.NoiseApps
	}
	if config.Policy.NoiseNames == nil {
		config.Policy.NoiseNames = defaults.Policy.NoiseNames
	}
	// Our own combine sinks must never be discovered as devices
	if !slices.Contains(config.Policy.ReservedPrefixes, config.SinkPrefix) {
		config.Policy.ReservedPrefixes = append(slices.Clone(config.Policy.ReservedPrefixes), config.SinkPrefix)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   config,
		registry: registry.New(),
		facility: facility,
		source:   source,
		events:   make(chan graph.Event, config.EventBuffer),
		commands: make(chan graph.Command, config.CommandBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	e.manager = cluster.NewManager(cluster.Config{
		Params:     config.Mix,
		SinkPrefix: config.SinkPrefix,
	}, e.registry, facility, e.publish)
	e.dispatcher = dispatch.New(dispatch.Config{Workers: config.Workers}, e.registry, e.manager, facility)
	return e
}

// Events is the outbound queue of Add/Remove events
func (e *Engine) Events() <-chan graph.Event {
	return e.events
}

// Commands is the inbound queue of Connect/Disconnect/Shutdown commands
func (e *Engine) Commands() chan<- graph.Command {
	return e.commands
}

// Start purges leftovers from a previous run, then starts discovery and
// command processing
func (e *Engine) Start() error {
	n, err := e.facility.PurgeStale(e.ctx, e.config.Policy.ReservedPrefixes, e.config.MockPrefix)
	if err != nil {
		return fmt.Errorf("failed to purge stale modules: %w", err)
	}
	if n > 0 {
		log.Printf("Cleaned up %d stale modules", n)
	} else {
		log.Printf("No stale modules found")
	}

	e.spawnMocks()

	e.wg.Add(1)
	go e.discover()

	e.wg.Add(1)
	go e.processCommands()

	return nil
}

// Done is closed once command processing ends, after Shutdown or Stop
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Stop cancels discovery and command intake, then waits for both loops and
// for commands still running on the pool
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.dispatcher.Wait()
}

func (e *Engine) processCommands() {
	defer e.wg.Done()
	e.dispatcher.Run(e.ctx, e.commands)
	e.unloadMocks()
	close(e.done)
}

// publish queues an event; mutations call it once they are complete
func (e *Engine) publish(ev graph.Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

func (e *Engine) spawnMocks() {
	for i, mock := range e.config.MockDevices {
		name := mock.Name
		if name == "" {
			name = fmt.Sprintf("%s%d", e.config.MockPrefix, i+1)
		}
		id, err := e.facility.LoadNullSink(e.ctx, name, mock.Description)
		if err != nil {
			log.Printf("Failed to create mock %s: %v", mock.Description, err)
			continue
		}
		e.mockMu.Lock()
		e.mockModules = append(e.mockModules, id)
		e.mockMu.Unlock()
		log.Printf("Created mock %s (module %d)", mock.Description, id)
	}
}

func (e *Engine) unloadMocks() {
	e.mockMu.Lock()
	modules := e.mockModules
	e.mockModules = nil
	e.mockMu.Unlock()

	for _, id := range modules {
		if err := e.facility.UnloadModule(context.Background(), id); err != nil {
			log.Printf("Failed to unload mock module %d: %v", id, err)
		}
	}
}
