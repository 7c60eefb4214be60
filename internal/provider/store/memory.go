// Package store persists providers. InMemory backs development and tests;
// Postgres is the production store. Both return sentinel errors so the
// service layer stays backend-agnostic.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"authed/internal/provider/models"
	id "authed/pkg/domain"
	"authed/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded provider store.
type InMemory struct {
	mu        sync.RWMutex
	providers map[id.ProviderID]*models.Provider
}

func NewInMemory() *InMemory {
	return &InMemory{providers: make(map[id.ProviderID]*models.Provider)}
}

func (s *InMemory) Create(_ context.Context, provider *models.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.providers[provider.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *provider
	s.providers[provider.ID] = &clone
	return nil
}

func (s *InMemory) Update(_ context.Context, provider *models.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.providers[provider.ID]; !exists {
		return sentinel.ErrNotFound
	}
	clone := *provider
	s.providers[provider.ID] = &clone
	return nil
}

func (s *InMemory) FindByID(_ context.Context, providerID id.ProviderID) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	provider, ok := s.providers[providerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *provider
	return &clone, nil
}

func (s *InMemory) FindBySecretFingerprint(_ context.Context, fingerprint string) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, provider := range s.providers {
		if provider.SecretFingerprint == fingerprint {
			clone := *provider
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) List(_ context.Context, filter models.ListFilter) ([]*models.Provider, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Provider
	for _, provider := range s.providers {
		if filter.Name != "" && !strings.Contains(strings.ToLower(provider.Name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.FromDate != nil && provider.CreatedAt.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && provider.CreatedAt.After(*filter.ToDate) {
			continue
		}
		clone := *provider
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Skip >= total {
		return nil, total, nil
	}
	end := filter.Skip + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Skip:end], total, nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.providers), nil
}
