// Package dpop implements Demonstrating Proof-of-Possession (RFC 9449)
// proofs for agent requests. Agents sign a short-lived JWT over the request
// method and URL with their registered key; the registry verifies the
// signature, the binding, the freshness window, and single-use of the jti.
package dpop

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authed/internal/keys"
	dErrors "authed/pkg/domain-errors"
	"authed/pkg/platform/sentinel"
)

const (
	// proofType is the required JOSE typ header for DPoP proofs.
	proofType = "dpop+jwt"

	// futureSkew tolerates modest clock drift between agents and registry.
	futureSkew = 30 * time.Second
)

// proofClaims are the registered DPoP claims.
type proofClaims struct {
	HTTPMethod string `json:"htm"`
	HTTPURL    string `json:"htu"`
	jwt.RegisteredClaims
}

// Sign creates a DPoP proof for the given request, embedding the public JWK
// in the header so verifiers can bind the proof to the agent's key.
func Sign(priv *rsa.PrivateKey, method, requestURL string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, proofClaims{
		HTTPMethod: strings.ToUpper(method),
		HTTPURL:    normalizeURL(requestURL),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	})
	token.Header["typ"] = proofType
	token.Header["jwk"] = jwkFromPublicKey(&priv.PublicKey)

	signed, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign dpop proof: %w", err)
	}
	return signed, nil
}

// HashProof returns base64url(SHA-256(proof)), the binding value carried in
// interaction token claims.
func HashProof(proof string) string {
	sum := sha256.Sum256([]byte(proof))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verifier validates DPoP proofs against a replay cache.
type Verifier struct {
	replay ReplayCache
	maxAge time.Duration
}

// NewVerifier builds a proof verifier. maxAge bounds how old a proof's iat
// may be; jtis are remembered for the same window.
func NewVerifier(replay ReplayCache, maxAge time.Duration) *Verifier {
	return &Verifier{replay: replay, maxAge: maxAge}
}

// VerifyProof checks a proof against the expected key, method and URL.
// When publicKeyPEM is empty the key embedded in the proof header is used;
// callers that know the registered agent key should always pass it so a
// forged proof cannot supply its own key.
func (v *Verifier) VerifyProof(ctx context.Context, proof, publicKeyPEM, method, requestURL string) error {
	pub, err := v.resolveKey(proof, publicKeyPEM)
	if err != nil {
		return err
	}

	var claims proofClaims
	token, err := jwt.ParseWithClaims(proof, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return pub, nil
	}, jwt.WithIssuedAt())
	if err != nil || !token.Valid {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid dpop proof signature")
	}

	if typ, _ := token.Header["typ"].(string); typ != proofType {
		return dErrors.New(dErrors.CodeUnauthorized, "dpop proof has wrong typ header")
	}
	if !strings.EqualFold(claims.HTTPMethod, method) {
		return dErrors.New(dErrors.CodeUnauthorized, "dpop proof method mismatch")
	}
	if normalizeURL(claims.HTTPURL) != normalizeURL(requestURL) {
		return dErrors.New(dErrors.CodeUnauthorized, "dpop proof URL mismatch")
	}

	if claims.IssuedAt == nil {
		return dErrors.New(dErrors.CodeUnauthorized, "dpop proof missing iat")
	}
	now := time.Now()
	issued := claims.IssuedAt.Time
	if issued.After(now.Add(futureSkew)) {
		return dErrors.New(dErrors.CodeUnauthorized, "dpop proof issued in the future")
	}
	if now.Sub(issued) > v.maxAge {
		return dErrors.New(dErrors.CodeUnauthorized, "dpop proof has expired")
	}

	if claims.ID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "dpop proof missing jti")
	}
	fresh, err := v.replay.Remember(ctx, claims.ID, v.maxAge+futureSkew)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "replay cache unavailable")
	}
	if !fresh {
		return dErrors.Wrap(sentinel.ErrAlreadyUsed, dErrors.CodeUnauthorized, "dpop proof replayed")
	}
	return nil
}

func (v *Verifier) resolveKey(proof, publicKeyPEM string) (*rsa.PublicKey, error) {
	if publicKeyPEM != "" {
		pub, err := keys.ParsePublicKey(publicKeyPEM)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "bound dpop key is invalid")
		}
		return pub, nil
	}
	return KeyFromProof(proof)
}

// KeyFromProof extracts the RSA public key embedded in a proof's JWK header.
// Used during token verification when the encrypted key claim cannot be
// recovered.
func KeyFromProof(proof string) (*rsa.PublicKey, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(proof, jwt.MapClaims{})
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "dpop proof is not a valid JWT")
	}
	jwk, ok := token.Header["jwk"].(map[string]any)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "dpop proof has no jwk header")
	}
	return publicKeyFromJWK(jwk)
}

// KeyPEMFromProof returns the embedded proof key re-encoded as PEM, for
// storage and comparison against registered agent keys.
func KeyPEMFromProof(proof string) (string, error) {
	pub, err := KeyFromProof(proof)
	if err != nil {
		return "", err
	}
	return keys.EncodePublicKey(pub)
}

func jwkFromPublicKey(pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kty": "RSA",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func publicKeyFromJWK(jwk map[string]any) (*rsa.PublicKey, error) {
	kty, _ := jwk["kty"].(string)
	if kty != "RSA" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "unsupported jwk key type")
	}
	nStr, _ := jwk["n"].(string)
	eStr, _ := jwk["e"].(string)

	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "jwk modulus is not valid base64url")
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "jwk exponent is not valid base64url")
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "jwk is incomplete")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// normalizeURL strips query and fragment per RFC 9449 htu comparison rules.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
