package session

import (
	"sync"

	"github.com/normanking/avatarstage/internal/conversation"
)

// Registry tracks live sessions so reloaded settings reach all of them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	settings *conversation.Settings
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s, applying the latest reloaded settings to it.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	settings := r.settings
	r.mu.Unlock()

	if settings != nil {
		s.UpdateSettings(*settings)
	}
}

// Remove unregisters s.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID())
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// UpdateSettings pushes settings to every live session and remembers them
// for sessions added later.
func (r *Registry) UpdateSettings(settings conversation.Settings) {
	r.mu.Lock()
	r.settings = &settings
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.UpdateSettings(settings)
	}
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	for _, s := range live {
		s.Close()
	}
}
