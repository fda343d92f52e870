// Package inmem provides in-memory store implementations with the same
// atomicity guarantees as the persistent ones. Used in tests and as the
// single-instance development backend.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// SessionStore keeps sessions in a mutex-guarded map keyed by token hash.
type SessionStore struct {
	mu      sync.Mutex
	byToken map[string]*domain.Session
	byID    map[uuid.UUID]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byToken: make(map[string]*domain.Session),
		byID:    make(map[uuid.UUID]string),
	}
}

func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.byToken[session.TokenHash] = &clone
	s.byID[session.ID] = session.TokenHash
	return nil
}

func (s *SessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byToken[tokenHash]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (s *SessionStore) GetByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.byToken {
		if session.RefreshTokenHash != "" && session.RefreshTokenHash == refreshTokenHash {
			clone := *session
			return &clone, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (s *SessionStore) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var sessions []*domain.Session
	for _, session := range s.byToken {
		if session.UserID == userID && !session.Expired(now) {
			clone := *session
			sessions = append(sessions, &clone)
		}
	}
	return sessions, nil
}

func (s *SessionStore) Touch(ctx context.Context, id uuid.UUID, lastActivityAt, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokenHash, ok := s.byID[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session := s.byToken[tokenHash]
	session.LastActivityAt = lastActivityAt
	session.ExpiresAt = expiresAt
	return nil
}

func (s *SessionStore) UpdateCSRFToken(ctx context.Context, id uuid.UUID, csrfToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokenHash, ok := s.byID[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.byToken[tokenHash].CSRFToken = csrfToken
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokenHash, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byToken, tokenHash)
	delete(s.byID, id)
	return nil
}

func (s *SessionStore) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byToken[tokenHash]
	if !ok {
		return nil
	}
	delete(s.byToken, tokenHash)
	delete(s.byID, session.ID)
	return nil
}

func (s *SessionStore) DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tokenHash, session := range s.byToken {
		if session.UserID == userID {
			delete(s.byToken, tokenHash)
			delete(s.byID, session.ID)
		}
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for tokenHash, session := range s.byToken {
		if session.Expired(now) && session.RefreshExpired(now) {
			delete(s.byToken, tokenHash)
			delete(s.byID, session.ID)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}
