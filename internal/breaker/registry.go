package breaker

import "sync"

// Registry lazily creates and owns one breaker per model key. The model
// universe is open-ended via aliases and custom registration, so breakers
// are never pre-instantiated.
type Registry struct {
	defaults Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers use the given defaults.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.defaults)
		r.breakers[key] = b
	}
	return b
}

// Configure installs a breaker with per-key thresholds, replacing any
// existing breaker (and its accumulated state) for that key.
func (r *Registry) Configure(key string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := New(key, config)
	r.breakers[key] = b
	return b
}

// Snapshots returns a copy of every breaker's state.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	keys := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		keys = append(keys, b)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(keys))
	for _, b := range keys {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}

// ResetAll forces every known breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}
