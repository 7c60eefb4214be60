package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "authed/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseAgentID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseAgentID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseProviderID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseAgentID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, AgentID(validUUID), id)
	})
}

func TestIDs_JSONRoundTrip(t *testing.T) {
	agentID := AgentID(uuid.New())

	data, err := json.Marshal(agentID)
	require.NoError(t, err)
	assert.Equal(t, `"`+agentID.String()+`"`, string(data))

	var decoded AgentID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, agentID, decoded)
}

// TestTypeDistinction verifies the compiler enforces type safety.
func TestTypeDistinction(t *testing.T) {
	agentID := AgentID(uuid.New())
	providerID := ProviderID(uuid.New())

	// These would fail to compile if types were interchangeable:
	// var _ AgentID = providerID   // compile error
	// var _ ProviderID = agentID   // compile error

	assert.NotEqual(t, uuid.UUID(agentID), uuid.UUID(providerID))
}
