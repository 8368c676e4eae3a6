// ABOUTME: Endpoint registry mapping subsystem handles to stable identities
// ABOUTME: One independently locked store per relation, no lock spans two relations
package registry

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/google/uuid"
)

// ErrHandleInUse is returned when a handle already belongs to another identity
var ErrHandleInUse = errors.New("handle already registered to another identity")

// ParkedNode is a rediscovered device hidden behind an active cluster member
type ParkedNode struct {
	Handle   graph.Handle
	NodeName string
}

// Registry is the authoritative identity store.
//
// Each relation has its own lock. Callers doing multi-step work must re-read
// what they need at each step instead of expecting a consistent view across
// relations.
type Registry struct {
	handles  *handleTable
	kinds    *table[uuid.UUID, graph.Kind]
	names    *table[uuid.UUID, string] // subsystem node name
	visible  *table[uuid.UUID, bool]
	claims   *table[string, string] // description -> node name of the member
	parked   *table[string, ParkedNode]
	modules  *table[uuid.UUID, graph.ModuleID]
	defaults *table[uuid.UUID, string] // cluster -> default output before it existed
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		handles:  newHandleTable(),
		kinds:    newTable[uuid.UUID, graph.Kind](),
		names:    newTable[uuid.UUID, string](),
		visible:  newTable[uuid.UUID, bool](),
		claims:   newTable[string, string](),
		parked:   newTable[string, ParkedNode](),
		modules:  newTable[uuid.UUID, graph.ModuleID](),
		defaults: newTable[uuid.UUID, string](),
	}
}

// Register records a newly discovered endpoint. Registering an identity that
// is already known is a no-op. A handle owned by a different identity is never
// overwritten.
func (r *Registry) Register(id uuid.UUID, handle graph.Handle, name string, kind graph.Kind) error {
	if _, ok := r.kinds.get(id); ok {
		return nil
	}
	if handle != graph.NoHandle {
		if err := r.handles.bind(id, handle); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
	}
	r.names.set(id, name)
	r.kinds.set(id, kind.Clone())
	return nil
}

// Unregister drops every per-identity relation for id and returns the kind it had
func (r *Registry) Unregister(id uuid.UUID) (graph.Kind, bool) {
	r.handles.unbind(id)
	r.names.remove(id)
	r.visible.remove(id)
	return r.kinds.take(id)
}

// Resolve finds the identity currently bound to a subsystem handle
func (r *Registry) Resolve(handle graph.Handle) (uuid.UUID, bool) {
	return r.handles.identity(handle)
}

// Handle returns the subsystem handle of id
func (r *Registry) Handle(id uuid.UUID) (graph.Handle, bool) {
	return r.handles.handle(id)
}

// Kind returns a copy of the kind registered for id
func (r *Registry) Kind(id uuid.UUID) (graph.Kind, bool) {
	k, ok := r.kinds.get(id)
	return k.Clone(), ok
}

// Snapshot builds the orb currently registered for id
func (r *Registry) Snapshot(id uuid.UUID) (graph.Orb, bool) {
	kind, ok := r.Kind(id)
	if !ok {
		return graph.Orb{}, false
	}
	handle, _ := r.handles.handle(id)
	return graph.NewOrb(id, handle, kind), true
}

// NodeName returns the subsystem node name registered for id
func (r *Registry) NodeName(id uuid.UUID) (string, bool) {
	return r.names.get(id)
}

// HasNode reports whether a registered endpoint or a parked instance is
// backed by the subsystem node called name
func (r *Registry) HasNode(name string) bool {
	if name == "" {
		return false
	}
	if _, ok := r.names.find(func(_ uuid.UUID, n string) bool { return n == name }); ok {
		return true
	}
	_, ok := r.parked.find(func(_ string, p ParkedNode) bool { return p.NodeName == name })
	return ok
}

// Registered reports whether id is known
func (r *Registry) Registered(id uuid.UUID) bool {
	_, ok := r.kinds.get(id)
	return ok
}

// Show marks id as part of the visible set
func (r *Registry) Show(id uuid.UUID) {
	if r.Registered(id) {
		r.visible.set(id, true)
	}
}

// Hide removes id from the visible set; it stays registered.
// Returns true if it was visible.
func (r *Registry) Hide(id uuid.UUID) bool {
	_, ok := r.visible.take(id)
	return ok
}

// IsVisible reports whether id is in the visible set
func (r *Registry) IsVisible(id uuid.UUID) bool {
	_, ok := r.visible.get(id)
	return ok
}

// Visible returns the identities of the visible set
func (r *Registry) Visible() []uuid.UUID {
	return r.visible.keys()
}

// FindPhysical finds a registered PhysicalSink with the given description.
// Retained (hidden) endpoints are included.
func (r *Registry) FindPhysical(description string) (uuid.UUID, bool) {
	return r.kinds.find(func(_ uuid.UUID, k graph.Kind) bool {
		return k.Role == graph.RolePhysicalSink && k.Description == description
	})
}

// ClusterFor finds the active ClusterSink listing description as a member
func (r *Registry) ClusterFor(description string) (uuid.UUID, bool) {
	return r.kinds.find(func(_ uuid.UUID, k graph.Kind) bool {
		return k.Role == graph.RoleClusterSink && k.HasMember(description)
	})
}

// Clusters returns the identities of every registered ClusterSink
func (r *Registry) Clusters() []uuid.UUID {
	return r.kinds.filter(func(_ uuid.UUID, k graph.Kind) bool {
		return k.Role == graph.RoleClusterSink
	})
}

// Claim marks a description as merged into a cluster, remembering the node
// name that backs it
func (r *Registry) Claim(description, nodeName string) {
	r.claims.set(description, nodeName)
}

// Unclaim releases descriptions so rediscovered devices surface again
func (r *Registry) Unclaim(descriptions ...string) {
	for _, d := range descriptions {
		r.claims.remove(d)
	}
}

// ClaimedNode returns the node name recorded when description was claimed
func (r *Registry) ClaimedNode(description string) (string, bool) {
	return r.claims.get(description)
}

// IsParked reports whether a newly discovered endpoint with this description
// must be parked instead of surfaced, i.e. whether a cluster claims it
func (r *Registry) IsParked(description string) bool {
	_, ok := r.claims.get(description)
	return ok
}

// Park tracks a hidden instance of a claimed device. A second park for the
// same description replaces the first.
func (r *Registry) Park(description string, node ParkedNode) {
	r.parked.set(description, node)
}

// Parked returns the parked instance for description without removing it
func (r *Registry) Parked(description string) (ParkedNode, bool) {
	return r.parked.get(description)
}

// Unpark removes and returns the parked instance for description
func (r *Registry) Unpark(description string) (ParkedNode, bool) {
	return r.parked.take(description)
}

// DropParkedHandle forgets any parked instance backed by handle
func (r *Registry) DropParkedHandle(handle graph.Handle) bool {
	desc, ok := r.parked.find(func(_ string, p ParkedNode) bool {
		return p.Handle == handle
	})
	if ok {
		r.parked.remove(desc)
	}
	return ok
}

// SetModule records the mixing-facility module backing a cluster
func (r *Registry) SetModule(cluster uuid.UUID, module graph.ModuleID) {
	r.modules.set(cluster, module)
}

// TakeModule removes and returns the module backing a cluster
func (r *Registry) TakeModule(cluster uuid.UUID) (graph.ModuleID, bool) {
	return r.modules.take(cluster)
}

// Modules returns every recorded cluster module
func (r *Registry) Modules() map[uuid.UUID]graph.ModuleID {
	return r.modules.snapshot()
}

// SaveDefault remembers the system default output active before a cluster
func (r *Registry) SaveDefault(cluster uuid.UUID, sink string) {
	r.defaults.set(cluster, sink)
}

// TakeDefault removes and returns the saved default output for a cluster
func (r *Registry) TakeDefault(cluster uuid.UUID) (string, bool) {
	return r.defaults.take(cluster)
}
