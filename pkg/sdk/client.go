// Package sdk is the Go client for the registry. An agent configures it with
// its credentials and DPoP private key, then asks for interaction tokens to
// call peers; targets use the same client to verify presented tokens.
package sdk

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"authed/internal/dpop"
	"authed/internal/keys"
)

// expirySlack refreshes cached tokens slightly before they expire so a token
// does not die in flight.
const expirySlack = 30 * time.Second

// APIError is a non-2xx registry response.
type APIError struct {
	Status      int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("registry: %s (%s)", e.Description, e.Code)
	}
	return fmt.Sprintf("registry: %s (status %d)", e.Code, e.Status)
}

// Client talks to the registry. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *retryablehttp.Client

	internalKey    string
	providerSecret string
	agentID        string
	agentSecret    string
	dpopKey        *rsa.PrivateKey

	mu    sync.Mutex
	cache map[string]*InteractionToken
}

type Option func(c *Client) error

// WithInternalKey authenticates requests with the backoffice API key.
func WithInternalKey(key string) Option {
	return func(c *Client) error { c.internalKey = key; return nil }
}

// WithProviderSecret authenticates requests as a provider.
func WithProviderSecret(secret string) Option {
	return func(c *Client) error { c.providerSecret = secret; return nil }
}

// WithAgentCredentials authenticates requests as an agent. privateKeyPEM is
// the agent's DPoP signing key; it never leaves the client.
func WithAgentCredentials(agentID, agentSecret, privateKeyPEM string) Option {
	return func(c *Client) error {
		key, err := keys.ParsePrivateKey(privateKeyPEM)
		if err != nil {
			return fmt.Errorf("parse dpop private key: %w", err)
		}
		c.agentID = agentID
		c.agentSecret = agentSecret
		c.dpopKey = key
		return nil
	}
}

// WithHTTPClient replaces the underlying retrying HTTP client.
func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(c *Client) error { c.http = client; return nil }
}

// New constructs a registry client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.Logger = nil

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		cache:   make(map[string]*InteractionToken),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RegisterProvider creates a provider. Requires the internal key.
func (c *Client) RegisterProvider(ctx context.Context, name, contactEmail string) (*RegisteredProvider, error) {
	var out RegisteredProvider
	err := c.do(ctx, http.MethodPost, "/providers/register", map[string]string{
		"name":          name,
		"contact_email": contactEmail,
	}, &out, nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProvider fetches a provider by ID.
func (c *Client) GetProvider(ctx context.Context, providerID string) (*Provider, error) {
	var out Provider
	if err := c.do(ctx, http.MethodGet, "/providers/"+providerID, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterAgent creates an agent under the authenticated provider.
func (c *Client) RegisterAgent(ctx context.Context, name, dpopPublicKeyPEM string) (*RegisteredAgent, error) {
	var out RegisteredAgent
	err := c.do(ctx, http.MethodPost, "/agents/register", map[string]string{
		"name":            name,
		"dpop_public_key": dpopPublicKeyPEM,
	}, &out, nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAgent fetches an agent by ID.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var out Agent
	if err := c.do(ctx, http.MethodGet, "/agents/"+agentID, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAgents returns the provider's agents.
func (c *Client) ListAgents(ctx context.Context, providerID string) ([]Agent, error) {
	var out struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/providers/"+providerID+"/agents", nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// UpdatePermissions replaces an agent's allow list.
func (c *Client) UpdatePermissions(ctx context.Context, agentID string, permissions []Permission) (*Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPost, "/agents/"+agentID+"/permissions", map[string]any{
		"permissions": permissions,
	}, &out, nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Token returns an interaction token for the target agent, reusing a cached
// one while it is still comfortably valid.
func (c *Client) Token(ctx context.Context, targetAgentID string) (*InteractionToken, error) {
	if c.dpopKey == nil {
		return nil, fmt.Errorf("agent credentials are not configured")
	}

	c.mu.Lock()
	if cached, ok := c.cache[targetAgentID]; ok && time.Until(cached.ExpiresAt) > expirySlack {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	tokenURL := c.baseURL + "/tokens/create"
	proof, err := dpop.Sign(c.dpopKey, http.MethodPost, tokenURL)
	if err != nil {
		return nil, err
	}

	var out InteractionToken
	err = c.do(ctx, http.MethodPost, "/tokens/create", map[string]string{
		"target_agent_id": targetAgentID,
	}, &out, map[string]string{"DPoP": proof})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[targetAgentID] = &out
	c.mu.Unlock()
	return &out, nil
}

// Verify checks a token presented by a peer, proving possession of this
// agent's key when the token was issued by it.
func (c *Client) Verify(ctx context.Context, token, expectedTarget string) (*VerifiedToken, error) {
	headers := map[string]string{}
	if c.dpopKey != nil {
		verifyURL := c.baseURL + "/tokens/verify"
		proof, err := dpop.Sign(c.dpopKey, http.MethodPost, verifyURL)
		if err != nil {
			return nil, err
		}
		headers["DPoP"] = proof
	}

	var out VerifiedToken
	err := c.do(ctx, http.MethodPost, "/tokens/verify", map[string]string{
		"token":           token,
		"expected_target": expectedTarget,
	}, &out, headers)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Revoke places a token on the revocation list and drops it from the cache.
func (c *Client) Revoke(ctx context.Context, token string) error {
	if err := c.do(ctx, http.MethodPost, "/tokens/revoke", map[string]string{"token": token}, nil, nil); err != nil {
		return err
	}

	c.mu.Lock()
	for target, cached := range c.cache {
		if cached.Token == token {
			delete(c.cache, target)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authenticate(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "unknown"}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// authenticate attaches every credential the client holds. The registry
// honors the most privileged one a route accepts, so a client configured
// with both provider and agent credentials can manage its provider and
// still present itself as an agent on the token surface.
func (c *Client) authenticate(req *retryablehttp.Request) {
	if c.agentID != "" {
		req.Header.Set("x-agent-id", c.agentID)
		req.Header.Set("x-agent-secret", c.agentSecret)
	}
	if c.providerSecret != "" {
		req.Header.Set("provider-secret", c.providerSecret)
	}
	if c.internalKey != "" {
		req.Header.Set("x-api-key", c.internalKey)
	}
}
