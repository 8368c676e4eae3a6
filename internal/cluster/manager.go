// ABOUTME: Cluster lifecycle manager creating, extending and merging combine sinks
// ABOUTME: Each operation is a sequence of named steps that re-read the registry
package cluster

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/pulse"
	"github.com/Resonate-Protocol/auralis/internal/registry"
	"github.com/google/uuid"
)

// DefaultSinkPrefix names every combine sink the manager creates
const DefaultSinkPrefix = "auralis_cluster_"

// Mixer is the part of the audio subsystem the manager drives
type Mixer interface {
	LoadCombineSink(ctx context.Context, sinkName string, slaves []string, params pulse.MixParams) (graph.ModuleID, error)
	UnloadModule(ctx context.Context, id graph.ModuleID) error
	DefaultSink(ctx context.Context) (string, error)
	SetDefaultSink(ctx context.Context, sink string) error
	MoveAllStreams(ctx context.Context, sink string) error
}

// Publisher receives events once the mutation behind them is complete
type Publisher func(graph.Event)

// Config holds manager configuration
type Config struct {
	Params     pulse.MixParams
	SinkPrefix string
}

// Manager runs the cluster state machine: Absent -> Active -> Dissolving -> Absent.
// It holds no state of its own; everything lives in the registry.
type Manager struct {
	config   Config
	registry *registry.Registry
	mixer    Mixer
	publish  Publisher
}

// NewManager creates a lifecycle manager
func NewManager(config Config, reg *registry.Registry, mixer Mixer, publish Publisher) *Manager {
	if config.SinkPrefix == "" {
		config.SinkPrefix = DefaultSinkPrefix
	}
	if publish == nil {
		publish = func(graph.Event) {}
	}
	return &Manager{
		config:   config,
		registry: reg,
		mixer:    mixer,
		publish:  publish,
	}
}

// member is a description resolved to the device backing it
type member struct {
	description string
	nodeName    string
	id          uuid.UUID // retained endpoint, uuid.Nil when only a parked instance exists
}

// Create merges the devices with the given descriptions into a new cluster
func (m *Manager) Create(ctx context.Context, descriptions []string) (uuid.UUID, error) {
	return m.create(ctx, descriptions, "")
}

// create runs the creation steps. inherited is a default output saved by a
// cluster this one replaces; when empty the current default is saved.
func (m *Manager) create(ctx context.Context, descriptions []string, inherited string) (uuid.UUID, error) {
	descriptions = dedupe(descriptions)
	if len(descriptions) < 2 {
		return uuid.Nil, fmt.Errorf("create cluster from %v: %w", descriptions, ErrTooFewMembers)
	}

	members := m.resolveMembers(descriptions)
	if len(members) == 0 {
		return uuid.Nil, fmt.Errorf("create cluster from %v: %w", descriptions, ErrNoValidMembers)
	}

	sinkName := m.config.SinkPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
	module, err := m.loadMix(ctx, sinkName, members)
	if err != nil {
		return uuid.Nil, err
	}
	log.Printf("Cluster sink %s loaded as module %d", sinkName, module)

	clusterID, err := m.commit(ctx, sinkName, module, members, inherited)
	if err != nil {
		// Nothing is visible yet; drop the instance we just made
		if uerr := m.mixer.UnloadModule(ctx, module); uerr != nil {
			log.Printf("Failed to unload module %d after commit failure: %v", module, uerr)
		}
		return uuid.Nil, err
	}

	m.migrate(ctx, sinkName)
	m.announce(clusterID, members)
	return clusterID, nil
}

// resolveMembers finds the device name behind each description, looking at
// retained endpoints first and parked instances second
func (m *Manager) resolveMembers(descriptions []string) []member {
	var members []member
	for _, desc := range descriptions {
		if id, ok := m.registry.FindPhysical(desc); ok {
			if name, ok := m.registry.NodeName(id); ok {
				members = append(members, member{description: desc, nodeName: name, id: id})
				continue
			}
		}
		if parked, ok := m.registry.Parked(desc); ok {
			members = append(members, member{description: desc, nodeName: parked.NodeName})
			continue
		}
		log.Printf("Warning: no device found for %q, leaving it out of the cluster", desc)
	}
	return members
}

func (m *Manager) loadMix(ctx context.Context, sinkName string, members []member) (graph.ModuleID, error) {
	slaves := make([]string, len(members))
	for i, mem := range members {
		slaves[i] = mem.nodeName
	}
	module, err := m.mixer.LoadCombineSink(ctx, sinkName, slaves, m.config.Params)
	if err != nil {
		return 0, &MixFacilityError{Op: "create", Err: err}
	}
	return module, nil
}

// commit records the new cluster. The member list holds only what was
// actually merged into the combine sink.
func (m *Manager) commit(ctx context.Context, sinkName string, module graph.ModuleID, members []member, inherited string) (uuid.UUID, error) {
	descriptions := make([]string, len(members))
	for i, mem := range members {
		descriptions[i] = mem.description
	}

	clusterID := uuid.New()
	if err := m.registry.Register(clusterID, graph.NoHandle, sinkName, graph.ClusterSink(descriptions)); err != nil {
		return uuid.Nil, fmt.Errorf("commit cluster %s: %w", sinkName, err)
	}
	m.registry.SetModule(clusterID, module)

	previous := inherited
	if previous == "" {
		def, err := m.mixer.DefaultSink(ctx)
		if err != nil {
			log.Printf("Could not read default output, dissolving will fall back to a member: %v", err)
		}
		previous = def
	}
	// Another cluster's sink goes away with that cluster
	if previous != "" && !strings.HasPrefix(previous, m.config.SinkPrefix) {
		m.registry.SaveDefault(clusterID, previous)
	}

	for _, mem := range members {
		m.registry.Claim(mem.description, mem.nodeName)
	}
	return clusterID, nil
}

// migrate makes the cluster the default output and moves what is playing.
// The cluster exists at this point, so failures only cost audio routing.
func (m *Manager) migrate(ctx context.Context, sinkName string) {
	if err := m.mixer.SetDefaultSink(ctx, sinkName); err != nil {
		log.Printf("Failed to set cluster as default output: %v", err)
	}
	if err := m.mixer.MoveAllStreams(ctx, sinkName); err != nil {
		log.Printf("Failed to move streams to cluster: %v", err)
	}
}

func (m *Manager) announce(clusterID uuid.UUID, members []member) {
	m.registry.Show(clusterID)
	if orb, ok := m.registry.Snapshot(clusterID); ok {
		m.publish(graph.AddEvent(orb))
	}

	for _, mem := range members {
		if mem.id == uuid.Nil {
			continue
		}
		if m.registry.Hide(mem.id) {
			m.publish(graph.RemoveEvent(mem.id))
		}
	}
}

// AddMember rebuilds a cluster with one more device
func (m *Manager) AddMember(ctx context.Context, clusterID, deviceID uuid.UUID) (uuid.UUID, error) {
	members, err := m.members(clusterID)
	if err != nil {
		return uuid.Nil, err
	}
	device, ok := m.registry.Kind(deviceID)
	if !ok || device.Role != graph.RolePhysicalSink {
		return uuid.Nil, fmt.Errorf("add %s to cluster %s: %w", deviceID, clusterID, ErrNotDevice)
	}

	for _, d := range members {
		if d == device.Description {
			return clusterID, nil
		}
	}

	log.Printf("Adding %q to cluster %s", device.Description, clusterID)
	return m.rebuild(ctx, []uuid.UUID{clusterID}, append(members, device.Description))
}

// Merge replaces two clusters with one spanning both member lists
func (m *Manager) Merge(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error) {
	first, err := m.members(a)
	if err != nil {
		return uuid.Nil, err
	}
	second, err := m.members(b)
	if err != nil {
		return uuid.Nil, err
	}

	log.Printf("Merging cluster %s into %s", b, a)
	return m.rebuild(ctx, []uuid.UUID{a, b}, append(first, second...))
}

func (m *Manager) members(clusterID uuid.UUID) ([]string, error) {
	kind, ok := m.registry.Kind(clusterID)
	if !ok || kind.Role != graph.RoleClusterSink {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, ErrNotCluster)
	}
	return kind.Members, nil
}

// rebuild tears clusters down without restoring their members, then creates
// one cluster over the union. Claims survive the teardown so nothing
// rediscovered in between surfaces. If creation fails the union is restored as
// standalone devices.
func (m *Manager) rebuild(ctx context.Context, clusters []uuid.UUID, union []string) (uuid.UUID, error) {
	var inherited string
	for _, id := range clusters {
		if def, ok := m.registry.TakeDefault(id); ok && inherited == "" {
			inherited = def
		}
		m.unloadMix(ctx, id)
		m.retire(id)
	}

	clusterID, err := m.create(ctx, union, inherited)
	if err != nil {
		log.Printf("Rebuilding cluster failed, restoring members: %v", err)
		union = dedupe(union)
		target := inherited
		if !m.registry.HasNode(target) {
			target = m.fallbackTarget(union, "")
		}
		if target != "" {
			m.restoreOutput(ctx, target)
		}
		m.restoreMembers(union, "")
		return uuid.Nil, err
	}

	m.releaseDropped(clusterID, union)
	return clusterID, nil
}

// releaseDropped unclaims descriptions of the union that did not make it into
// the rebuilt cluster, typically a device unplugged during the teardown.
func (m *Manager) releaseDropped(clusterID uuid.UUID, union []string) {
	kind, _ := m.registry.Kind(clusterID)
	for _, desc := range dedupe(union) {
		if kind.HasMember(desc) {
			continue
		}
		log.Printf("Releasing %q, it is not part of cluster %s", desc, clusterID)
		m.registry.Unclaim(desc)
		if parked, ok := m.registry.Unpark(desc); ok {
			m.surfaceParked(desc, parked)
		}
	}
}

func dedupe(descriptions []string) []string {
	seen := make(map[string]bool, len(descriptions))
	out := make([]string, 0, len(descriptions))
	for _, d := range descriptions {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
