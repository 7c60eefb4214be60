package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"authed/internal/provider/models"
	id "authed/pkg/domain"
	"authed/pkg/platform/sentinel"
)

type ProviderStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *ProviderStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestProviderStoreSuite(t *testing.T) {
	suite.Run(t, new(ProviderStoreSuite))
}

func (s *ProviderStoreSuite) newProvider(name string) *models.Provider {
	now := time.Now()
	return &models.Provider{
		ID:                id.ProviderID(uuid.New()),
		Name:              name,
		SecretFingerprint: uuid.NewString(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (s *ProviderStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds provider by ID", func() {
		provider := s.newProvider("Acme")
		s.Require().NoError(s.store.Create(s.ctx, provider))

		found, err := s.store.FindByID(s.ctx, provider.ID)
		s.Require().NoError(err)
		s.Equal(provider.Name, found.Name)
	})

	s.Run("finds provider by secret fingerprint", func() {
		provider := s.newProvider("ByFingerprint")
		s.Require().NoError(s.store.Create(s.ctx, provider))

		found, err := s.store.FindBySecretFingerprint(s.ctx, provider.SecretFingerprint)
		s.Require().NoError(err)
		s.Equal(provider.ID, found.ID)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.ProviderID(uuid.New()))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returns ErrNotFound for unknown fingerprint", func() {
		_, err := s.store.FindBySecretFingerprint(s.ctx, "missing")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate ID", func() {
		provider := s.newProvider("Dup")
		s.Require().NoError(s.store.Create(s.ctx, provider))
		s.Require().ErrorIs(s.store.Create(s.ctx, provider), sentinel.ErrConflict)
	})
}

func (s *ProviderStoreSuite) TestUpdates() {
	s.Run("persists field changes", func() {
		provider := s.newProvider("Before")
		s.Require().NoError(s.store.Create(s.ctx, provider))

		provider.Name = "After"
		provider.Claimed = true
		s.Require().NoError(s.store.Update(s.ctx, provider))

		found, err := s.store.FindByID(s.ctx, provider.ID)
		s.Require().NoError(err)
		s.Equal("After", found.Name)
		s.True(found.Claimed)
	})

	s.Run("returns ErrNotFound for non-existent provider", func() {
		s.Require().ErrorIs(s.store.Update(s.ctx, s.newProvider("Ghost")), sentinel.ErrNotFound)
	})

	s.Run("mutating a returned provider does not affect the store", func() {
		provider := s.newProvider("Isolated")
		s.Require().NoError(s.store.Create(s.ctx, provider))

		found, err := s.store.FindByID(s.ctx, provider.ID)
		s.Require().NoError(err)
		found.Name = "Mutated"

		again, err := s.store.FindByID(s.ctx, provider.ID)
		s.Require().NoError(err)
		s.Equal("Isolated", again.Name)
	})
}

func (s *ProviderStoreSuite) TestListing() {
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"alpha", "beta", "gamma"} {
		provider := s.newProvider(name)
		provider.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		s.Require().NoError(s.store.Create(s.ctx, provider))
	}

	s.Run("orders newest first with full total", func() {
		providers, total, err := s.store.List(s.ctx, models.ListFilter{Limit: 2})
		s.Require().NoError(err)
		s.Equal(3, total)
		s.Require().Len(providers, 2)
		s.Equal("gamma", providers[0].Name)
	})

	s.Run("filters by partial name", func() {
		providers, total, err := s.store.List(s.ctx, models.ListFilter{Name: "ALPH", Limit: 10})
		s.Require().NoError(err)
		s.Equal(1, total)
		s.Require().Len(providers, 1)
		s.Equal("alpha", providers[0].Name)
	})

	s.Run("filters by date range", func() {
		from := base.Add(90 * time.Second)
		_, total, err := s.store.List(s.ctx, models.ListFilter{FromDate: &from, Limit: 10})
		s.Require().NoError(err)
		s.Equal(1, total)
	})

	s.Run("skip beyond total returns empty page", func() {
		providers, total, err := s.store.List(s.ctx, models.ListFilter{Skip: 5, Limit: 10})
		s.Require().NoError(err)
		s.Equal(3, total)
		s.Empty(providers)
	})
}
