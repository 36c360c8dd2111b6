package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionTTL = 24 * time.Hour

// Session is a server-side browser session created by the OAuth callback.
type Session struct {
	ID        string
	Principal string // user email
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore holds sessions in memory. Sessions are process-lifetime; a
// restart simply sends browsers back through the OAuth flow.
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

// Create opens a session for a principal and returns it.
func (s *SessionStore) Create(principal string) *Session {
	session := &Session{
		ID:        uuid.NewString(),
		Principal: principal,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(sessionTTL),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// Get returns the session for an id, or nil when absent or expired.
func (s *SessionStore) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil
	}
	if time.Now().After(session.ExpiresAt) {
		return nil
	}
	return session
}

// Revoke removes a session.
func (s *SessionStore) Revoke(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// CleanupExpired removes expired sessions.
func (s *SessionStore) CleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
}
