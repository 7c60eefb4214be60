// The authed CLI manages registry credentials from a developer machine:
// provider and agent registration, key generation, token operations, and an
// MCP server exposing the registry to AI tooling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"authed/internal/mcp"
	"authed/pkg/sdk"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "authed",
		Short:         "Agent-to-agent authentication registry CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newInitCmd(),
		newKeysCmd(),
		newProvidersCmd(),
		newAgentsCmd(),
		newTokensCmd(),
		newMCPCmd(),
	)
	return root
}

// clientFromConfig builds an SDK client carrying every credential in the
// stored configuration; the registry uses the most privileged one each
// route accepts.
func clientFromConfig(cfg *cliConfig) (*sdk.Client, error) {
	if cfg.RegistryURL == "" {
		return nil, fmt.Errorf("registry URL is not configured; run `authed init config` first")
	}

	var opts []sdk.Option
	if cfg.AgentID != "" && cfg.AgentSecret != "" && cfg.PrivateKey != "" {
		opts = append(opts, sdk.WithAgentCredentials(cfg.AgentID, cfg.AgentSecret, cfg.PrivateKey))
	}
	if cfg.ProviderSecret != "" {
		opts = append(opts, sdk.WithProviderSecret(cfg.ProviderSecret))
	}
	if cfg.InternalAPIKey != "" {
		opts = append(opts, sdk.WithInternalKey(cfg.InternalAPIKey))
	}
	return sdk.New(cfg.RegistryURL, opts...)
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve registry tools over the Model Context Protocol on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := clientFromConfig(cfg)
			if err != nil {
				return err
			}
			return mcp.New(client).Run(cmd.Context())
		},
	}
}
