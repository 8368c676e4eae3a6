// ABOUTME: Small locked key-value stores backing each registry relation
// ABOUTME: Includes the bidirectional identity/handle table
package registry

import (
	"sync"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/google/uuid"
)

type table[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func newTable[K comparable, V any]() *table[K, V] {
	return &table[K, V]{m: make(map[K]V)}
}

func (t *table[K, V]) get(k K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.m[k]
	return v, ok
}

func (t *table[K, V]) set(k K, v V) {
	t.mu.Lock()
	t.m[k] = v
	t.mu.Unlock()
}

func (t *table[K, V]) remove(k K) {
	t.mu.Lock()
	delete(t.m, k)
	t.mu.Unlock()
}

func (t *table[K, V]) take(k K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[k]
	if ok {
		delete(t.m, k)
	}
	return v, ok
}

func (t *table[K, V]) find(match func(K, V) bool) (K, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, v := range t.m {
		if match(k, v) {
			return k, true
		}
	}
	var zero K
	return zero, false
}

func (t *table[K, V]) filter(match func(K, V) bool) []K {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []K
	for k, v := range t.m {
		if match(k, v) {
			out = append(out, k)
		}
	}
	return out
}

func (t *table[K, V]) keys() []K {
	return t.filter(func(K, V) bool { return true })
}

func (t *table[K, V]) snapshot() map[K]V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[K]V, len(t.m))
	for k, v := range t.m {
		out[k] = v
	}
	return out
}

// handleTable keeps identity->handle and handle->identity under one lock so
// the two directions never disagree
type handleTable struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]graph.Handle
	byHandle map[graph.Handle]uuid.UUID
}

func newHandleTable() *handleTable {
	return &handleTable{
		byID:     make(map[uuid.UUID]graph.Handle),
		byHandle: make(map[graph.Handle]uuid.UUID),
	}
}

func (h *handleTable) bind(id uuid.UUID, handle graph.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if owner, ok := h.byHandle[handle]; ok && owner != id {
		return ErrHandleInUse
	}
	if old, ok := h.byID[id]; ok && old != handle {
		delete(h.byHandle, old)
	}
	h.byID[id] = handle
	h.byHandle[handle] = id
	return nil
}

func (h *handleTable) unbind(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handle, ok := h.byID[id]; ok {
		delete(h.byHandle, handle)
		delete(h.byID, id)
	}
}

func (h *handleTable) identity(handle graph.Handle) (uuid.UUID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.byHandle[handle]
	return id, ok
}

func (h *handleTable) handle(id uuid.UUID) (graph.Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handle, ok := h.byID[id]
	return handle, ok
}
