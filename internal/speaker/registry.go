package speaker

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Talking is the set of sources currently heard. The receiver adds a source
// when its audio arrives; an engine removes it when playback goes idle.
type Talking struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]struct{}
}

func NewTalking() *Talking {
	return &Talking{ids: make(map[uuid.UUID]struct{})}
}

// Add reports whether id was not already talking.
func (t *Talking) Add(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[id]; ok {
		return false
	}
	t.ids[id] = struct{}{}
	return true
}

func (t *Talking) Remove(id uuid.UUID) {
	t.mu.Lock()
	delete(t.ids, id)
	t.mu.Unlock()
}

func (t *Talking) Contains(id uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

// List returns the talking sources in a stable order.
func (t *Talking) List() []uuid.UUID {
	t.mu.RLock()
	ids := make([]uuid.UUID, 0, len(t.ids))
	for id := range t.ids {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

func (t *Talking) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}
