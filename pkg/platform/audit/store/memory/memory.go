// Package memory provides an in-process audit log for development and tests.
package memory

import (
	"context"
	"sync"

	audit "authed/pkg/platform/audit"
)

// Store keeps events in append order under a mutex.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

// NewStore creates an empty in-memory audit log.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]audit.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *Store) ListByActor(_ context.Context, actorID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, event := range s.events {
		if event.ActorID == actorID {
			out = append(out, event)
		}
	}
	return out, nil
}
