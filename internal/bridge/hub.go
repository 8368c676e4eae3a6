// ABOUTME: Event hub mirroring the engine's visible endpoints
// ABOUTME: Fans engine events out to bridge clients and the terminal UI
package bridge

import (
	"context"
	"log"
	"sync"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/google/uuid"
)

// Subscription delivers events that follow the snapshot taken at subscribe time
type Subscription struct {
	Snapshot []graph.Orb
	Events   <-chan graph.Event

	hub *Hub
	id  int
}

// Close stops delivery and closes Events
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

// Hub keeps an eventually consistent mirror of the endpoint set
type Hub struct {
	mu    sync.Mutex
	orbs  map[uuid.UUID]graph.Orb
	order []uuid.UUID

	subs    map[int]chan graph.Event
	nextSub int
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		orbs: make(map[uuid.UUID]graph.Orb),
		subs: make(map[int]chan graph.Event),
	}
}

// Run applies events until the channel closes or ctx ends
func (h *Hub) Run(ctx context.Context, events <-chan graph.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Apply(ev)
		}
	}
}

// Apply updates the mirror and forwards ev to every subscriber. A subscriber
// that cannot keep up is dropped rather than allowed to stall the engine.
func (h *Hub) Apply(ev graph.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Type {
	case graph.EventAdd:
		if _, ok := h.orbs[ev.Orb.ID]; !ok {
			h.order = append(h.order, ev.Orb.ID)
		}
		h.orbs[ev.Orb.ID] = ev.Orb.Clone()
	case graph.EventRemove:
		if _, ok := h.orbs[ev.ID]; !ok {
			return
		}
		delete(h.orbs, ev.ID)
		for i, id := range h.order {
			if id == ev.ID {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("Warning: subscriber %d fell behind, dropping it", id)
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Snapshot returns the mirrored endpoints in discovery order
func (h *Hub) Snapshot() []graph.Orb {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Hub) snapshotLocked() []graph.Orb {
	out := make([]graph.Orb, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.orbs[id].Clone())
	}
	return out
}

// Lookup returns one mirrored endpoint
func (h *Hub) Lookup(id uuid.UUID) (graph.Orb, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	orb, ok := h.orbs[id]
	return orb.Clone(), ok
}

// Subscribe registers a subscriber. The snapshot and the registration happen
// together, so no event is missed or seen twice.
func (h *Hub) Subscribe(buffer int) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan graph.Event, buffer)
	h.subs[id] = ch

	return &Subscription{
		Snapshot: h.snapshotLocked(),
		Events:   ch,
		hub:      h,
		id:       id,
	}
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}
