package pd

import (
	"sync"

	"github.com/railcomm/trdp-pd/pkg/pderr"
)

// Registry owns a process's live Session set, keyed by an
// application-chosen name: an explicit value the caller constructs,
// passes around, and can discard, rather than relying on global mutable
// state that makes multi-session testing and embedding fragile.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open constructs a Session from cfg and registers it under name. It
// returns pderr.ErrParam-wrapped if name is already taken.
func (r *Registry) Open(name string, cfg SessionConfig) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[name]; exists {
		return nil, pderr.Wrap(pderr.ErrParam, "registry: session name already open: "+name)
	}

	s, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[name] = s
	return s, nil
}

// Lookup returns the session registered under name, if any.
func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Close removes and closes the session registered under name.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// Names returns every currently registered session name, for diagnostics
// and the statistics surface.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		out = append(out, name)
	}
	return out
}
