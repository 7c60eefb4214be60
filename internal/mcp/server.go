// Package mcp exposes the registry to AI agents over the Model Context
// Protocol. Tools wrap the SDK client, so an MCP-driven agent gets the same
// credential and DPoP handling as a hand-written one.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"authed/pkg/sdk"
)

const (
	serverName    = "authed-registry"
	serverVersion = "1.0.0"
)

// Server bridges MCP tool calls to the registry.
type Server struct {
	client    *sdk.Client
	mcpServer *mcp.Server
}

// New builds an MCP server over a configured registry client.
func New(client *sdk.Client) *Server {
	s := &Server{
		client:    client,
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
	}
	mcp.AddTool(s.mcpServer, tokenIssueTool(), s.handleTokenIssue)
	mcp.AddTool(s.mcpServer, tokenVerifyTool(), s.handleTokenVerify)
	mcp.AddTool(s.mcpServer, tokenRevokeTool(), s.handleTokenRevoke)
	mcp.AddTool(s.mcpServer, agentGetTool(), s.handleAgentGet)
	return s
}

// Run serves the MCP protocol over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// TokenIssueInput requests an interaction token for a target agent.
type TokenIssueInput struct {
	TargetAgentID string `json:"target_agent_id" jsonschema:"agent to authenticate to"`
}

// TokenIssueResult carries the issued token.
type TokenIssueResult struct {
	Token     string `json:"token" jsonschema:"interaction token JWT"`
	ExpiresAt string `json:"expires_at" jsonschema:"RFC3339 token expiry"`
}

func tokenIssueTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "token_issue",
		Description: "Requests an interaction token for calling another agent. Both agents must permit each other in the registry.",
	}
}

func (s *Server) handleTokenIssue(ctx context.Context, _ *mcp.CallToolRequest, input TokenIssueInput) (*mcp.CallToolResult, TokenIssueResult, error) {
	token, err := s.client.Token(ctx, input.TargetAgentID)
	if err != nil {
		return nil, TokenIssueResult{}, fmt.Errorf("issue token: %w", err)
	}
	return nil, TokenIssueResult{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// TokenVerifyInput verifies a token presented by a peer.
type TokenVerifyInput struct {
	Token          string `json:"token" jsonschema:"interaction token to verify"`
	ExpectedTarget string `json:"expected_target,omitempty" jsonschema:"agent the token should be addressed to (defaults to unchecked)"`
}

// TokenVerifyResult echoes the validated claims.
type TokenVerifyResult struct {
	Subject   string `json:"subject" jsonschema:"agent the token was issued to"`
	Target    string `json:"target" jsonschema:"agent the token is addressed to"`
	ExpiresAt string `json:"expires_at" jsonschema:"RFC3339 token expiry"`
}

func tokenVerifyTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "token_verify",
		Description: "Verifies an interaction token presented by another agent, including a fresh permission check against the registry.",
	}
}

func (s *Server) handleTokenVerify(ctx context.Context, _ *mcp.CallToolRequest, input TokenVerifyInput) (*mcp.CallToolResult, TokenVerifyResult, error) {
	verified, err := s.client.Verify(ctx, input.Token, input.ExpectedTarget)
	if err != nil {
		return nil, TokenVerifyResult{}, fmt.Errorf("verify token: %w", err)
	}
	return nil, TokenVerifyResult{
		Subject:   verified.Subject,
		Target:    verified.Target,
		ExpiresAt: verified.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// TokenRevokeInput revokes an interaction token.
type TokenRevokeInput struct {
	Token string `json:"token" jsonschema:"interaction token to revoke"`
}

// TokenRevokeResult reports the revocation outcome.
type TokenRevokeResult struct {
	Revoked bool `json:"revoked" jsonschema:"whether the token was revoked"`
}

func tokenRevokeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "token_revoke",
		Description: "Revokes an interaction token so it can no longer be verified.",
	}
}

func (s *Server) handleTokenRevoke(ctx context.Context, _ *mcp.CallToolRequest, input TokenRevokeInput) (*mcp.CallToolResult, TokenRevokeResult, error) {
	if err := s.client.Revoke(ctx, input.Token); err != nil {
		return nil, TokenRevokeResult{}, fmt.Errorf("revoke token: %w", err)
	}
	return nil, TokenRevokeResult{Revoked: true}, nil
}

// AgentGetInput looks up an agent.
type AgentGetInput struct {
	AgentID string `json:"agent_id" jsonschema:"agent identifier"`
}

// AgentGetResult describes an agent.
type AgentGetResult struct {
	ID         string `json:"id" jsonschema:"agent identifier"`
	ProviderID string `json:"provider_id" jsonschema:"owning provider"`
	Name       string `json:"name" jsonschema:"agent name"`
	Active     bool   `json:"active" jsonschema:"whether the agent can authenticate"`
}

func agentGetTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "agent_get",
		Description: "Looks up a registered agent by ID.",
	}
}

func (s *Server) handleAgentGet(ctx context.Context, _ *mcp.CallToolRequest, input AgentGetInput) (*mcp.CallToolResult, AgentGetResult, error) {
	agent, err := s.client.GetAgent(ctx, input.AgentID)
	if err != nil {
		return nil, AgentGetResult{}, fmt.Errorf("get agent: %w", err)
	}
	return nil, AgentGetResult{
		ID:         agent.ID,
		ProviderID: agent.ProviderID,
		Name:       agent.Name,
		Active:     agent.Active,
	}, nil
}
