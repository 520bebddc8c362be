package upload

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry tracks live sessions so polling and cancellation endpoints can
// reach them. Settled sessions linger for the TTL to let clients fetch the
// final result, then a sweep drops them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *zap.Logger
}

// NewRegistry builds a registry with the given retention for settled sessions.
func NewRegistry(ttl time.Duration, logger *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
	}
}

// Put registers a session under its ID.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get looks up a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Cancel aborts the session if it is still registered.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.Cancel()
	return true
}

// Sweep removes sessions that settled longer than the TTL ago and returns how
// many were dropped.
func (r *Registry) Sweep() int {
	cutoff := time.Now().UTC().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		settledAt := s.SettledAt()
		if !settledAt.IsZero() && settledAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("swept settled upload sessions", zap.Int("removed", removed))
	}
	return removed
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
