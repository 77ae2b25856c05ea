package program

import "sync"

// Registry tracks the active run of every program session. A workspace owns
// one registry and passes it to each Server it creates, so duplicate or stale
// program instances are detected without package-level state.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Context
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Context)}
}

// Active reports whether session has a run in progress.
func (r *Registry) Active(session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[session]
	return ok
}

// Len returns the number of sessions with a run in progress.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) acquire(session string, c *Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[session]; ok {
		return ErrDuplicateInstance
	}
	r.active[session] = c
	return nil
}

func (r *Registry) release(session string, c *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[session] == c {
		delete(r.active, session)
	}
}

func (r *Registry) owns(session string, c *Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[session] == c
}
