package breaker

import "sync"

// Registry hands out breakers by name so repeated construction is
// idempotent. It is built once at startup and passed by reference.
type Registry struct {
	mu       sync.Mutex
	defaults Options
	breakers map[string]*Breaker

	// OnStateChange, when set before any Get call, is attached to every
	// breaker the registry creates.
	OnStateChange func(name string, from, to State)
}

func NewRegistry(defaults Options) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		breakers: map[string]*Breaker{},
	}
}

// Get returns the breaker registered under name, creating it with the
// registry defaults (overridden by opts, when given) on first use.
func (r *Registry) Get(name string, opts ...Options) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	o := r.defaults
	if len(opts) > 0 {
		o = opts[0].withDefaults()
	}
	b := New(name, o)
	b.onStateChange = r.OnStateChange
	r.breakers[name] = b
	return b
}
