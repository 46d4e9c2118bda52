package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory SessionStore.
//
// Designed for single-process deployments, testing, and development.
// Sessions are lost when the process terminates; the sweeper bounds
// memory growth.
//
// MemStore is thread-safe.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemStore creates an empty in-memory session store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]Session)}
}

// Get returns the session for key, or ErrNotFound.
func (m *MemStore) Get(_ context.Context, key string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[key]
	if !exists {
		return Session{}, ErrNotFound
	}

	// Copy the queue so callers cannot alias stored state.
	if len(sess.Queue) > 0 {
		queue := make([]Entry, len(sess.Queue))
		copy(queue, sess.Queue)
		sess.Queue = queue
	}
	return sess, nil
}

// Put creates or replaces the session for sess.Key.
func (m *MemStore) Put(_ context.Context, sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(sess.Queue) > 0 {
		queue := make([]Entry, len(sess.Queue))
		copy(queue, sess.Queue)
		sess.Queue = queue
	}
	m.sessions[sess.Key] = sess
	return nil
}

// Delete removes the session for key.
func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

// Sweep removes sessions idle since before cutoff.
func (m *MemStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, sess := range m.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
