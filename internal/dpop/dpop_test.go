package dpop

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authed/internal/keys"
	dErrors "authed/pkg/domain-errors"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func testKeyPEM(t *testing.T, priv *rsa.PrivateKey) string {
	t.Helper()
	pem, err := keys.EncodePublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return pem
}

func newTestVerifier() *Verifier {
	return NewVerifier(NewMemoryReplayCache(), 5*time.Minute)
}

func TestVerifyProof_AcceptsValidProof(t *testing.T) {
	priv := testKey(t)
	proof, err := Sign(priv, "POST", "https://registry.example.com/tokens/create")
	require.NoError(t, err)

	v := newTestVerifier()
	err = v.VerifyProof(context.Background(), proof, testKeyPEM(t, priv), "POST", "https://registry.example.com/tokens/create")
	assert.NoError(t, err)
}

func TestVerifyProof_UsesEmbeddedKeyWhenUnbound(t *testing.T) {
	priv := testKey(t)
	proof, err := Sign(priv, "GET", "https://registry.example.com/agents/abc")
	require.NoError(t, err)

	v := newTestVerifier()
	err = v.VerifyProof(context.Background(), proof, "", "GET", "https://registry.example.com/agents/abc")
	assert.NoError(t, err)
}

func TestVerifyProof_RejectsWrongKey(t *testing.T) {
	signer := testKey(t)
	other := testKey(t)
	proof, err := Sign(signer, "POST", "https://registry.example.com/tokens/create")
	require.NoError(t, err)

	v := newTestVerifier()
	err = v.VerifyProof(context.Background(), proof, testKeyPEM(t, other), "POST", "https://registry.example.com/tokens/create")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestVerifyProof_RejectsMethodMismatch(t *testing.T) {
	priv := testKey(t)
	proof, err := Sign(priv, "POST", "https://registry.example.com/tokens/create")
	require.NoError(t, err)

	v := newTestVerifier()
	err = v.VerifyProof(context.Background(), proof, testKeyPEM(t, priv), "GET", "https://registry.example.com/tokens/create")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestVerifyProof_RejectsURLMismatch(t *testing.T) {
	priv := testKey(t)
	proof, err := Sign(priv, "POST", "https://registry.example.com/tokens/create")
	require.NoError(t, err)

	v := newTestVerifier()
	err = v.VerifyProof(context.Background(), proof, testKeyPEM(t, priv), "POST", "https://registry.example.com/tokens/verify")
	require.Error(t, err)
}

func TestVerifyProof_IgnoresQueryString(t *testing.T) {
	priv := testKey(t)
	proof, err := Sign(priv, "GET", "https://registry.example.com/agents?page=2")
	require.NoError(t, err)

	v := newTestVerifier()
	err = v.VerifyProof(context.Background(), proof, testKeyPEM(t, priv), "GET", "https://registry.example.com/agents?page=3")
	assert.NoError(t, err)
}

func TestVerifyProof_RejectsReplay(t *testing.T) {
	priv := testKey(t)
	proof, err := Sign(priv, "POST", "https://registry.example.com/tokens/create")
	require.NoError(t, err)

	v := newTestVerifier()
	ctx := context.Background()
	pem := testKeyPEM(t, priv)

	require.NoError(t, v.VerifyProof(ctx, proof, pem, "POST", "https://registry.example.com/tokens/create"))

	err = v.VerifyProof(ctx, proof, pem, "POST", "https://registry.example.com/tokens/create")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestVerifyProof_RejectsExpiredProof(t *testing.T) {
	priv := testKey(t)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, proofClaims{
		HTTPMethod: "POST",
		HTTPURL:    "https://registry.example.com/tokens/create",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now().Add(-10 * time.Minute)),
			ID:       uuid.NewString(),
		},
	})
	token.Header["typ"] = proofType
	token.Header["jwk"] = jwkFromPublicKey(&priv.PublicKey)
	proof, err := token.SignedString(priv)
	require.NoError(t, err)

	v := newTestVerifier()
	err = v.VerifyProof(context.Background(), proof, testKeyPEM(t, priv), "POST", "https://registry.example.com/tokens/create")
	require.Error(t, err)
}

func TestVerifyProof_RejectsWrongTypHeader(t *testing.T) {
	priv := testKey(t)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, proofClaims{
		HTTPMethod: "POST",
		HTTPURL:    "https://registry.example.com/tokens/create",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ID:       uuid.NewString(),
		},
	})
	token.Header["jwk"] = jwkFromPublicKey(&priv.PublicKey)
	proof, err := token.SignedString(priv)
	require.NoError(t, err)

	v := newTestVerifier()
	err = v.VerifyProof(context.Background(), proof, testKeyPEM(t, priv), "POST", "https://registry.example.com/tokens/create")
	require.Error(t, err)
}

func TestKeyFromProof_RoundTrip(t *testing.T) {
	priv := testKey(t)
	proof, err := Sign(priv, "POST", "https://registry.example.com/tokens/create")
	require.NoError(t, err)

	pub, err := KeyFromProof(proof)
	require.NoError(t, err)
	assert.Zero(t, pub.N.Cmp(priv.PublicKey.N))
	assert.Equal(t, priv.PublicKey.E, pub.E)

	pem, err := KeyPEMFromProof(proof)
	require.NoError(t, err)
	assert.Equal(t, testKeyPEM(t, priv), pem)
}

func TestHashProof_Deterministic(t *testing.T) {
	assert.Equal(t, HashProof("abc"), HashProof("abc"))
	assert.NotEqual(t, HashProof("abc"), HashProof("abd"))
	assert.NotContains(t, HashProof("abc"), "=")
}

func TestMemoryReplayCache(t *testing.T) {
	cache := NewMemoryReplayCache()
	ctx := context.Background()

	fresh, err := cache.Remember(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = cache.Remember(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = cache.Remember(ctx, "jti-2", -time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = cache.Remember(ctx, "jti-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh, "expired entries are forgotten")
}
