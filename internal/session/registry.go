package session

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrCodeTaken = errors.New("session code already in use")

// Registry is the process-global code → session mapping. Creations and
// deletions are atomic; lookups are case-sensitive on the canonical
// uppercase code.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.With(slog.String("component", "session_registry")),
	}
}

// Put admits a session, rejecting duplicate codes. The host:init handler
// retries with a fresh code on ErrCodeTaken.
func (r *Registry) Put(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.Code]; exists {
		return ErrCodeTaken
	}
	r.sessions[s.Code] = s
	r.logger.Debug("Session registered", slog.String("code", s.Code))
	return nil
}

func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[code]
	return s, ok
}

func (r *Registry) Delete(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[code]; ok {
		delete(r.sessions, code)
		r.logger.Debug("Session removed", slog.String("code", code))
	}
}

// Snapshot returns the live sessions at a point in time. Used by the
// expiry sweep; callers lock each session individually.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
