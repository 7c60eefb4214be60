package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"authed/internal/agent/models"
	id "authed/pkg/domain"
	"authed/pkg/platform/sentinel"
)

type AgentStoreSuite struct {
	suite.Suite
	store      *InMemory
	ctx        context.Context
	providerID id.ProviderID
}

func (s *AgentStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.providerID = id.ProviderID(uuid.New())
}

func TestAgentStoreSuite(t *testing.T) {
	suite.Run(t, new(AgentStoreSuite))
}

func (s *AgentStoreSuite) newAgent(name string) *models.Agent {
	now := time.Now()
	return &models.Agent{
		ID:            id.AgentID(uuid.New()),
		ProviderID:    s.providerID,
		Name:          name,
		DPoPPublicKey: "encrypted-key",
		SecretHash:    "hash",
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *AgentStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds agent by ID", func() {
		agent := s.newAgent("worker")
		s.Require().NoError(s.store.Create(s.ctx, agent))

		found, err := s.store.FindByID(s.ctx, agent.ID)
		s.Require().NoError(err)
		s.Equal("worker", found.Name)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.AgentID(uuid.New()))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate ID", func() {
		agent := s.newAgent("dup")
		s.Require().NoError(s.store.Create(s.ctx, agent))
		s.Require().ErrorIs(s.store.Create(s.ctx, agent), sentinel.ErrConflict)
	})
}

func (s *AgentStoreSuite) TestUpdates() {
	s.Run("persists field changes but not permissions", func() {
		agent := s.newAgent("before")
		s.Require().NoError(s.store.Create(s.ctx, agent))
		s.Require().NoError(s.store.ReplacePermissions(s.ctx, agent.ID, []models.Permission{
			{Type: models.PermissionAllowAgent, TargetID: uuid.NewString()},
		}))

		agent.Name = "after"
		agent.Active = false
		agent.Permissions = nil // Update must not clobber stored permissions
		s.Require().NoError(s.store.Update(s.ctx, agent))

		found, err := s.store.FindByID(s.ctx, agent.ID)
		s.Require().NoError(err)
		s.Equal("after", found.Name)
		s.False(found.Active)
		s.Len(found.Permissions, 1)
	})

	s.Run("returns ErrNotFound for non-existent agent", func() {
		s.Require().ErrorIs(s.store.Update(s.ctx, s.newAgent("ghost")), sentinel.ErrNotFound)
	})
}

func (s *AgentStoreSuite) TestPermissions() {
	agent := s.newAgent("perms")
	s.Require().NoError(s.store.Create(s.ctx, agent))

	s.Run("replaces atomically", func() {
		first := []models.Permission{{Type: models.PermissionAllowAgent, TargetID: uuid.NewString()}}
		s.Require().NoError(s.store.ReplacePermissions(s.ctx, agent.ID, first))

		second := []models.Permission{
			{Type: models.PermissionAllowProvider, TargetID: uuid.NewString()},
			{Type: models.PermissionAllowAgent, TargetID: uuid.NewString()},
		}
		s.Require().NoError(s.store.ReplacePermissions(s.ctx, agent.ID, second))

		found, err := s.store.FindByID(s.ctx, agent.ID)
		s.Require().NoError(err)
		s.Equal(second, found.Permissions)
	})

	s.Run("returns ErrNotFound for unknown agent", func() {
		err := s.store.ReplacePermissions(s.ctx, id.AgentID(uuid.New()), nil)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("mutating a returned slice does not affect the store", func() {
		found, err := s.store.FindByID(s.ctx, agent.ID)
		s.Require().NoError(err)
		s.Require().NotEmpty(found.Permissions)
		found.Permissions[0].TargetID = "mutated"

		again, err := s.store.FindByID(s.ctx, agent.ID)
		s.Require().NoError(err)
		s.NotEqual("mutated", again.Permissions[0].TargetID)
	})
}

func (s *AgentStoreSuite) TestListingAndCounts() {
	for _, name := range []string{"a", "b", "c"} {
		agent := s.newAgent(name)
		agent.CreatedAt = time.Now().Add(time.Duration(len(name)) * time.Millisecond)
		s.Require().NoError(s.store.Create(s.ctx, agent))
	}
	inactive := s.newAgent("idle")
	inactive.Active = false
	s.Require().NoError(s.store.Create(s.ctx, inactive))

	s.Run("excludes inactive agents by default", func() {
		agents, total, err := s.store.ListByProvider(s.ctx, s.providerID, false, 0, 10)
		s.Require().NoError(err)
		s.Equal(3, total)
		s.Len(agents, 3)
	})

	s.Run("includes inactive agents on request", func() {
		_, total, err := s.store.ListByProvider(s.ctx, s.providerID, true, 0, 10)
		s.Require().NoError(err)
		s.Equal(4, total)
	})

	s.Run("paginates with full total", func() {
		agents, total, err := s.store.ListByProvider(s.ctx, s.providerID, true, 2, 10)
		s.Require().NoError(err)
		s.Equal(4, total)
		s.Len(agents, 2)
	})

	s.Run("counts all agents regardless of active flag", func() {
		count, err := s.store.CountByProvider(s.ctx, s.providerID)
		s.Require().NoError(err)
		s.Equal(4, count)

		count, err = s.store.CountByProvider(s.ctx, id.ProviderID(uuid.New()))
		s.Require().NoError(err)
		s.Zero(count)
	})
}
