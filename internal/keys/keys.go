// Package keys manages the RSA key pairs used across the registry: the
// registry signing pair for interaction tokens and per-agent DPoP pairs.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"

	dErrors "authed/pkg/domain-errors"
)

// DefaultKeySize is the RSA modulus size for generated pairs.
const DefaultKeySize = 2048

// KeyPair holds a PEM-encoded RSA key pair (PKCS#8 private, PKIX public).
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Generate creates a new RSA key pair.
func Generate(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultKeySize
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
	}, nil
}

// Load parses and validates both halves of the pair, confirming the public
// key matches the private key.
func (kp *KeyPair) Load() (*rsa.PrivateKey, *rsa.PublicKey, error) {
	priv, err := ParsePrivateKey(kp.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	pub, err := ParsePublicKey(kp.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	if pub.N.Cmp(priv.N) != 0 || pub.E != priv.E {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "public key does not match private key")
	}
	return priv, pub, nil
}

// Valid reports whether the pair parses and matches.
func (kp *KeyPair) Valid() bool {
	_, _, err := kp.Load()
	return err == nil
}

// Save writes the pair to a JSON file readable by LoadFile. Written 0600
// since the private half is credential material.
func (kp *KeyPair) Save(path string) error {
	data, err := json.MarshalIndent(kp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key pair: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key pair: %w", err)
	}
	return nil
}

// LoadFile reads a key pair from a JSON file produced by Save.
func LoadFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key pair: %w", err)
	}
	var kp KeyPair
	if err := json.Unmarshal(data, &kp); err != nil {
		return nil, fmt.Errorf("parse key pair: %w", err)
	}
	return &kp, nil
}

// LoadOrGenerate returns the configured pair when both halves are present and
// valid, generating a fresh pair otherwise. Development convenience; in
// production the config layer requires explicit keys.
func LoadOrGenerate(publicPEM, privatePEM string) (*KeyPair, error) {
	if publicPEM != "" && privatePEM != "" {
		kp := &KeyPair{PublicKey: publicPEM, PrivateKey: privatePEM}
		if kp.Valid() {
			return kp, nil
		}
	}
	return Generate(DefaultKeySize)
}

// EncodePublicKey renders an RSA public key as PKIX PEM.
func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePrivateKey parses a PEM-encoded RSA private key (PKCS#8 or PKCS#1).
func ParsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "private key is not valid PEM")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "private key is not RSA")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "could not parse private key")
	}
	return rsaKey, nil
}

// ParsePublicKey parses a PEM-encoded RSA public key (PKIX).
func ParsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "public key is not valid PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "could not parse public key")
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "public key is not RSA")
	}
	return rsaKey, nil
}

// ValidatePublicKeyPEM checks that a string is a parseable RSA public key.
// Used at agent registration to reject malformed DPoP keys early.
func ValidatePublicKeyPEM(pemStr string) error {
	if pemStr == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "dpop public key is required")
	}
	if _, err := ParsePublicKey(pemStr); err != nil {
		return err
	}
	return nil
}
