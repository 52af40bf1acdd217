package mcp

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// SessionRegistry maps session IDs to their open transports. It is safe for concurrent use
// by the stream handlers registering and removing sessions and the message handlers
// looking them up.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

var (
	// ErrSessionExists is returned when registering an ID that is already in use.
	ErrSessionExists = errors.New("session already registered")
	// ErrSessionClosed is returned when sending to or delivering into a stopped session.
	ErrSessionClosed = errors.New("session is closed")
)

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]Session),
	}
}

// Register stores sess under id. Registering an ID twice is an error and leaves the
// existing entry untouched.
func (r *SessionRegistry) Register(id string, sess Session) error {
	if id == "" {
		return errors.New("empty session id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	r.sessions[id] = sess
	return nil
}

// Lookup returns the session registered under id.
func (r *SessionRegistry) Lookup(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes id from the registry and reports whether it was present.
func (r *SessionRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// IDs returns the IDs of all open sessions, sorted.
func (r *SessionRegistry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}
