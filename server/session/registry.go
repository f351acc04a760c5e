package session

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

// Registry tracks the sessions currently connected to a server, keyed by the
// UUID of the player driving them. Methods of Registry may be called from
// any goroutine.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry returns an empty session Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[uuid.UUID]*Session{}}
}

// Add stores the session passed in the registry. It returns false if a
// session with the same UUID is already present, in which case the registry
// is left unchanged.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.UUID()]; ok {
		return false
	}
	r.sessions[s.UUID()] = s
	return true
}

// Remove removes the session passed from the registry. A different session
// stored under the same UUID, such as that of a player that reconnected
// while the old session was still closing, is left in place.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.UUID()] == s {
		delete(r.sessions, s.UUID())
	}
}

// Lookup returns the session of the player with the UUID passed, with ok
// false if no such session is connected.
func (r *Registry) Lookup(id uuid.UUID) (s *Session, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok = r.sessions[id]
	return s, ok
}

// All returns the sessions currently in the registry, sorted by the name of
// their player.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	sessions := maps.Values(r.sessions)
	r.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return sessions
}

// Count returns the number of sessions currently in the registry.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
