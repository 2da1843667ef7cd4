package instance

import (
	"fmt"
	"sync"
)

// Registry is the authoritative in-memory table of tracked instances.
// It is a dumb store: capacity policy lives in the Manager. Snapshots
// iterate in insertion order so listings are deterministic.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Instance
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		items: make(map[string]*Instance),
	}
}

// Insert adds a new instance. It fails if the id is already present;
// ids are never reused.
func (r *Registry) Insert(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[inst.ID]; exists {
		return fmt.Errorf("instance %s already registered", inst.ID)
	}
	r.items[inst.ID] = inst
	r.order = append(r.order, inst.ID)
	return nil
}

// Get returns a copy of the instance, if tracked.
func (r *Registry) Get(id string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.items[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Update applies fn to the stored instance under the registry lock.
// It reports whether the id was present.
func (r *Registry) Update(id string, fn func(*Instance)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.items[id]
	if !ok {
		return false
	}
	fn(inst)
	return true
}

// Delete removes the instance. Removed ids leave no tombstone.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns copies of all tracked instances in insertion order.
func (r *Registry) List() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.items[id])
	}
	return out
}

// Len returns the number of tracked instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// CountActive returns the number of instances in a non-terminal state.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, inst := range r.items {
		if isActive(inst.State) {
			count++
		}
	}
	return count
}
