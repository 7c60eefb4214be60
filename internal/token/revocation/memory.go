package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local revocation list. Entries are swept lazily.
type Memory struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{revoked: make(map[string]time.Time)}
}

func (s *Memory) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	if expiresAt.After(time.Now()) {
		s.revoked[jti] = expiresAt
	}
	return nil
}

func (s *Memory) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	_, revoked := s.revoked[jti]
	return revoked, nil
}

func (s *Memory) sweep() {
	now := time.Now()
	for jti, expiry := range s.revoked {
		if now.After(expiry) {
			delete(s.revoked, jti)
		}
	}
}
