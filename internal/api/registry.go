package api

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/lane.report/internal/lane/pipeline"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// sessionEntry serialises access to one session: exactly one frame is in
// flight per session.
type sessionEntry struct {
	mu      sync.Mutex
	session *pipeline.Session
	source  string
}

// Registry holds the live sessions of the API server.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionEntry)}
}

// Add registers a session under its ID.
func (r *Registry) Add(s *pipeline.Session, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return fmt.Errorf("session %s already registered", s.ID())
	}
	r.sessions[s.ID()] = &sessionEntry{session: s, source: source}
	return nil
}

// With runs fn with exclusive access to the session.
func (r *Registry) With(id string, fn func(s *pipeline.Session) error) error {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

// Remove unregisters a session and returns it. It waits for any frame in
// flight on that session to finish.
func (r *Registry) Remove(id string) (*pipeline.Session, error) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// IDs returns the registered session IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
