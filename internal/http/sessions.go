package http

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"setlistify/internal/core"
)

const sessionTTL = 30 * time.Minute

// exportSession is one user's review-and-publish flow.
type exportSession struct {
	ID      string
	UserID  string
	Machine *core.ExportMachine
	Preview *core.ExportPreview
	Result  *core.PublishResult

	// guards Preview.Filter, which is single-writer
	mu      sync.Mutex
	touched time.Time
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*exportSession
	now      func() time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*exportSession),
		now:      time.Now,
	}
}

// create registers a new idle session for userID and evicts expired ones.
func (s *sessionStore) create(userID string) *exportSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, sess := range s.sessions {
		if now.Sub(sess.touched) > sessionTTL {
			delete(s.sessions, id)
		}
	}

	sess := &exportSession{
		ID:      uuid.NewString(),
		UserID:  userID,
		Machine: core.NewExportMachine(),
		touched: now,
	}
	s.sessions[sess.ID] = sess
	return sess
}

// get returns the session if it exists, belongs to userID and has not expired.
func (s *sessionStore) get(id, userID string) (*exportSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, false
	}
	now := s.now()
	if now.Sub(sess.touched) > sessionTTL {
		delete(s.sessions, id)
		return nil, false
	}
	sess.touched = now
	return sess, true
}

func (s *sessionStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
