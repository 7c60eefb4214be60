// Package store persists agents and their permission lists.
package store

import (
	"context"
	"sort"
	"sync"

	"authed/internal/agent/models"
	id "authed/pkg/domain"
	"authed/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded agent store.
type InMemory struct {
	mu     sync.RWMutex
	agents map[id.AgentID]*models.Agent
}

func NewInMemory() *InMemory {
	return &InMemory{agents: make(map[id.AgentID]*models.Agent)}
}

func cloneAgent(agent *models.Agent) *models.Agent {
	clone := *agent
	clone.Permissions = append([]models.Permission(nil), agent.Permissions...)
	return &clone
}

func (s *InMemory) Create(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agent.ID]; exists {
		return sentinel.ErrConflict
	}
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (s *InMemory) Update(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.agents[agent.ID]
	if !exists {
		return sentinel.ErrNotFound
	}
	updated := cloneAgent(agent)
	updated.Permissions = append([]models.Permission(nil), existing.Permissions...)
	s.agents[agent.ID] = updated
	return nil
}

func (s *InMemory) FindByID(_ context.Context, agentID id.AgentID) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAgent(agent), nil
}

func (s *InMemory) ListByProvider(_ context.Context, providerID id.ProviderID, includeInactive bool, skip, limit int) ([]*models.Agent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Agent
	for _, agent := range s.agents {
		if agent.ProviderID != providerID {
			continue
		}
		if !includeInactive && !agent.Active {
			continue
		}
		matched = append(matched, cloneAgent(agent))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	if skip >= total {
		return nil, total, nil
	}
	end := skip + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[skip:end], total, nil
}

func (s *InMemory) CountByProvider(_ context.Context, providerID id.ProviderID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, agent := range s.agents {
		if agent.ProviderID == providerID {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) ReplacePermissions(_ context.Context, agentID id.AgentID, permissions []models.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, exists := s.agents[agentID]
	if !exists {
		return sentinel.ErrNotFound
	}
	agent.Permissions = append([]models.Permission(nil), permissions...)
	return nil
}
