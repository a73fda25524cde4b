package breaker

import "sync"

// Registry hands out one breaker per resource name so every caller touching
// the same downstream shares trip state. Construct one and pass it down;
// there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the breaker for the resource, creating it with cfg on
// first use. Later calls ignore cfg.
func (r *Registry) GetOrCreate(resource string, cfg Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[resource]; ok {
		return cb
	}
	cb := New(resource, cfg)
	r.breakers[resource] = cb
	return cb
}

// Get returns the breaker for the resource, or nil if none exists.
func (r *Registry) Get(resource string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[resource]
}

// Snapshot returns stats for every registered breaker.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, cb.Stats())
	}
	return stats
}
