package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmodels "authed/internal/agent/models"
	"authed/internal/dpop"
	"authed/internal/keys"
	"authed/internal/platform/crypto"
	"authed/internal/token/models"
	"authed/internal/token/revocation"
	id "authed/pkg/domain"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/audit"
	"authed/pkg/platform/audit/publisher"
	auditmemory "authed/pkg/platform/audit/store/memory"
	"authed/pkg/requestcontext"
)

const issueURL = "https://registry.example.com/tokens"

type fakeAgentDirectory struct {
	agents map[id.AgentID]*agentmodels.Agent
}

func (f *fakeAgentDirectory) Get(_ context.Context, agentID id.AgentID) (*agentmodels.Agent, error) {
	agent, ok := f.agents[agentID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "agent not found")
	}
	return agent, nil
}

type fixture struct {
	svc          *Service
	requester    *agentmodels.Agent
	target       *agentmodels.Agent
	requesterKey *rsa.PrivateKey
	agents       *fakeAgentDirectory
	revocations  *revocation.Memory
	audit        *auditmemory.Store
}

// newFixture wires a service around two agents that permit each other.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	cipherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewFieldCipher(cipherKey)
	require.NoError(t, err)

	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	requesterKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	targetKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	providerA := id.ProviderID(uuid.New())
	providerB := id.ProviderID(uuid.New())
	requester := newTestAgent(t, providerA, "caller", requesterKey)
	target := newTestAgent(t, providerB, "callee", targetKey)

	requester.Permissions = []agentmodels.Permission{
		{Type: agentmodels.PermissionAllowAgent, TargetID: target.ID.String()},
	}
	target.Permissions = []agentmodels.Permission{
		{Type: agentmodels.PermissionAllowProvider, TargetID: providerA.String()},
	}

	agents := &fakeAgentDirectory{agents: map[id.AgentID]*agentmodels.Agent{
		requester.ID: requester,
		target.ID:    target,
	}}
	revocations := revocation.NewMemory()
	verifier := dpop.NewVerifier(dpop.NewMemoryReplayCache(), 5*time.Minute)

	auditStore := auditmemory.NewStore()
	pub := publisher.NewPublisher(auditStore)
	t.Cleanup(pub.Close)

	svc := New(agents, verifier, revocations, cipher, signingKey, 15*time.Minute, WithAuditTrail(pub))
	return &fixture{
		svc:          svc,
		requester:    requester,
		target:       target,
		requesterKey: requesterKey,
		agents:       agents,
		revocations:  revocations,
		audit:        auditStore,
	}
}

func newTestAgent(t *testing.T, providerID id.ProviderID, name string, key *rsa.PrivateKey) *agentmodels.Agent {
	t.Helper()
	keyPEM, err := keys.EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	agent, err := agentmodels.NewAgent(id.AgentID(uuid.New()), providerID, name, keyPEM, "hash", time.Now())
	require.NoError(t, err)
	return agent
}

func (f *fixture) requesterCtx() context.Context {
	return requestcontext.WithAgentID(context.Background(), f.requester.ID)
}

func (f *fixture) issue(t *testing.T) *models.InteractionToken {
	t.Helper()
	proof, err := dpop.Sign(f.requesterKey, "POST", issueURL)
	require.NoError(t, err)
	token, err := f.svc.Issue(f.requesterCtx(), f.target.ID, proof, "POST", issueURL)
	require.NoError(t, err)
	return token
}

func TestIssue(t *testing.T) {
	t.Run("issues a verifiable token for mutually permitted agents", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		assert.NotEmpty(t, token.Token)
		assert.Equal(t, f.target.ID, token.TargetAgentID)
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), token.ExpiresAt, time.Minute)

		verified, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token}, "", "", "")
		require.NoError(t, err)
		assert.Equal(t, f.requester.ID.String(), verified.Subject)
		assert.Equal(t, f.target.ID.String(), verified.Target)
		assert.NotEmpty(t, verified.JTI)

		events, err := f.audit.ListByActor(context.Background(), f.requester.ID.String())
		require.NoError(t, err)
		require.NotEmpty(t, events)
		assert.Equal(t, audit.ActionTokenIssued, events[0].Action)
	})

	t.Run("requires agent credentials", func(t *testing.T) {
		f := newFixture(t)
		proof, err := dpop.Sign(f.requesterKey, "POST", issueURL)
		require.NoError(t, err)

		_, err = f.svc.Issue(context.Background(), f.target.ID, proof, "POST", issueURL)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("denies when the target does not permit the requester", func(t *testing.T) {
		f := newFixture(t)
		f.target.Permissions = nil

		proof, err := dpop.Sign(f.requesterKey, "POST", issueURL)
		require.NoError(t, err)
		_, err = f.svc.Issue(f.requesterCtx(), f.target.ID, proof, "POST", issueURL)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

		events, listErr := f.audit.ListByActor(context.Background(), f.requester.ID.String())
		require.NoError(t, listErr)
		require.NotEmpty(t, events)
		assert.Equal(t, audit.ActionTokenDenied, events[0].Action)
	})

	t.Run("denies when the requester does not permit the target", func(t *testing.T) {
		f := newFixture(t)
		f.requester.Permissions = nil

		proof, err := dpop.Sign(f.requesterKey, "POST", issueURL)
		require.NoError(t, err)
		_, err = f.svc.Issue(f.requesterCtx(), f.target.ID, proof, "POST", issueURL)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("denies inactive targets", func(t *testing.T) {
		f := newFixture(t)
		f.target.Active = false

		proof, err := dpop.Sign(f.requesterKey, "POST", issueURL)
		require.NoError(t, err)
		_, err = f.svc.Issue(f.requesterCtx(), f.target.ID, proof, "POST", issueURL)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("denies unknown targets", func(t *testing.T) {
		f := newFixture(t)
		proof, err := dpop.Sign(f.requesterKey, "POST", issueURL)
		require.NoError(t, err)

		_, err = f.svc.Issue(f.requesterCtx(), id.AgentID(uuid.New()), proof, "POST", issueURL)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("rejects a proof signed with a key other than the registered one", func(t *testing.T) {
		f := newFixture(t)
		otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		proof, err := dpop.Sign(otherKey, "POST", issueURL)
		require.NoError(t, err)

		_, err = f.svc.Issue(f.requesterCtx(), f.target.ID, proof, "POST", issueURL)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestVerify(t *testing.T) {
	t.Run("rejects tokens signed by a different registry key", func(t *testing.T) {
		f := newFixture(t)
		other := newFixture(t)
		token := other.issue(t)

		_, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token}, "", "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects garbage tokens", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: "not.a.jwt"}, "", "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects a mismatched expected target", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		_, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{
			Token:          token.Token,
			ExpectedTarget: uuid.NewString(),
		}, "", "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("accepts a matching expected target", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		_, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{
			Token:          token.Token,
			ExpectedTarget: f.target.ID.String(),
		}, "", "", "")
		require.NoError(t, err)
	})

	t.Run("fails after a permission is revoked", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		f.target.Permissions = nil
		_, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token}, "", "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("fails after an agent is deactivated", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		f.requester.Active = false
		_, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token}, "", "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("fails after the token subject is deleted", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		delete(f.agents.agents, f.requester.ID)
		_, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token}, "", "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("checks a presenter proof against the key sealed in the token", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		proof, err := dpop.Sign(f.requesterKey, "GET", "https://callee.example.com/verify")
		require.NoError(t, err)
		_, err = f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token},
			proof, "GET", "https://callee.example.com/verify")
		require.NoError(t, err)
	})

	t.Run("rejects a presenter proof signed with the wrong key", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		proof, err := dpop.Sign(otherKey, "GET", "https://callee.example.com/verify")
		require.NoError(t, err)

		_, err = f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token},
			proof, "GET", "https://callee.example.com/verify")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		f := newFixture(t)

		// Issue with the request time pinned in the past so the token is
		// already expired when verified.
		ctx := requestcontext.WithTime(f.requesterCtx(), time.Now().Add(-time.Hour))
		proof, err := dpop.Sign(f.requesterKey, "POST", issueURL)
		require.NoError(t, err)
		token, err := f.svc.Issue(ctx, f.target.ID, proof, "POST", issueURL)
		require.NoError(t, err)

		_, err = f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token}, "", "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestRevoke(t *testing.T) {
	t.Run("a revoked token no longer verifies", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		require.NoError(t, f.svc.Revoke(f.requesterCtx(), token.Token))

		_, err := f.svc.Verify(context.Background(), &models.VerifyTokenRequest{Token: token.Token}, "", "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("the target may revoke a token addressed to it", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		ctx := requestcontext.WithAgentID(context.Background(), f.target.ID)
		require.NoError(t, f.svc.Revoke(ctx, token.Token))
	})

	t.Run("internal callers may revoke any token", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		require.NoError(t, f.svc.Revoke(requestcontext.WithInternal(context.Background()), token.Token))
	})

	t.Run("a third party may not revoke", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		ctx := requestcontext.WithAgentID(context.Background(), id.AgentID(uuid.New()))
		err := f.svc.Revoke(ctx, token.Token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("unauthenticated revocation is rejected", func(t *testing.T) {
		f := newFixture(t)
		token := f.issue(t)

		err := f.svc.Revoke(context.Background(), token.Token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
