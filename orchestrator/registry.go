package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// WorkerProfile describes one registered worker agent: its capability
// tags, free-text description, and current in-flight load.
type WorkerProfile struct {
	// Name uniquely identifies the worker within the registry.
	Name string `json:"name"`

	// Tags are capability keywords matched by the router.
	Tags []string `json:"tags"`

	// Description is a free-text summary of what the worker does.
	Description string `json:"description"`

	worker Worker

	// load counts in-flight tasks. Mutated only through the registry's
	// synchronized entry points; read atomically everywhere.
	load int64
}

// Load returns the worker's current in-flight task count.
func (p *WorkerProfile) Load() int {
	return int(atomic.LoadInt64(&p.load))
}

// Registry is the owned table of all worker profiles, indexed by name.
// It preserves insertion order for deterministic tie-breaking and is the
// single mutation point for load counters.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*WorkerProfile
	order    []string
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[string]*WorkerProfile),
	}
}

// Register adds a worker with its capability profile.
func (r *Registry) Register(name string, tags []string, description string, worker Worker) error {
	if name == "" {
		return fmt.Errorf("worker name cannot be empty")
	}
	if worker == nil {
		return fmt.Errorf("worker %q: execution capability cannot be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[name]; ok {
		return fmt.Errorf("%w: %s", ErrWorkerExists, name)
	}

	r.profiles[name] = &WorkerProfile{
		Name:        name,
		Tags:        append([]string{}, tags...),
		Description: description,
		worker:      worker,
	}
	r.order = append(r.order, name)
	return nil
}

// Remove deletes a worker from the registry. In-flight tasks keep their
// resolved profile reference and are not cancelled; their load counters
// still drain through the removed profile.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	}
	delete(r.profiles, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the profile for a worker name, or nil if unregistered.
func (r *Registry) Get(name string) *WorkerProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[name]
}

// Names returns all worker names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// Loads returns a snapshot of every worker's in-flight count.
func (r *Registry) Loads() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loads := make(map[string]int, len(r.profiles))
	for name, p := range r.profiles {
		loads[name] = p.Load()
	}
	return loads
}

// incrementLoad and decrementLoad are the only load mutation points.
// They operate on the resolved profile so that a worker removed while a
// task is in flight still balances to zero.

func (r *Registry) incrementLoad(p *WorkerProfile) {
	atomic.AddInt64(&p.load, 1)
}

func (r *Registry) decrementLoad(p *WorkerProfile) {
	atomic.AddInt64(&p.load, -1)
}
