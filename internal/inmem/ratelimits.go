package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// RateLimitStore keeps per-key counters behind one mutex, which makes
// every check-and-increment trivially linearizable.
type RateLimitStore struct {
	mu      sync.Mutex
	records map[string]*domain.RateLimitRecord
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{records: make(map[string]*domain.RateLimitRecord)}
}

func (s *RateLimitStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (*domain.RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		record = &domain.RateLimitRecord{Key: key}
		s.records[key] = record
	}

	if !ok || !now.Before(record.WindowStart.Add(window)) {
		record.Count = 1
		record.WindowStart = now
	} else {
		record.Count++
	}

	clone := *record
	return &clone, nil
}

func (s *RateLimitStore) RecordFailure(ctx context.Context, key string, now time.Time, maxFailures int, blockFor time.Duration) (*domain.RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		record = &domain.RateLimitRecord{Key: key, WindowStart: now}
		s.records[key] = record
	}

	record.FailedAttempts++
	if record.FailedAttempts >= maxFailures {
		blockedUntil := now.Add(blockFor)
		record.BlockedUntil = &blockedUntil
	}

	clone := *record
	return &clone, nil
}

func (s *RateLimitStore) ClearFailures(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[key]; ok {
		record.FailedAttempts = 0
		record.BlockedUntil = nil
	}
	return nil
}
