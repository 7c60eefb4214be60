package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"authed/internal/keys"
	"authed/pkg/sdk"
)

func newKeysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage DPoP key pairs",
	}

	var (
		output string
		format string
	)
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an RSA key pair for agent DPoP proofs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := keys.Generate(keys.DefaultKeySize)
			if err != nil {
				return err
			}
			if output != "" {
				if err := pair.Save(output); err != nil {
					return err
				}
				cmd.Printf("Key pair written to %s\n", output)
				return nil
			}
			switch format {
			case "json":
				return printJSON(cmd, pair)
			case "env":
				cmd.Printf("AUTHED_PRIVATE_KEY=%q\n", pair.PrivateKey)
				cmd.Printf("AUTHED_PUBLIC_KEY=%q\n", pair.PublicKey)
				return nil
			default:
				return fmt.Errorf("unknown format %q (want json or env)", format)
			}
		},
	}
	generateCmd.Flags().StringVarP(&output, "output", "o", "", "write the pair to a JSON file instead of stdout")
	generateCmd.Flags().StringVar(&format, "format", "json", "stdout format: json or env")

	keysCmd.AddCommand(generateCmd)
	return keysCmd
}

func newProvidersCmd() *cobra.Command {
	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage providers",
	}

	var (
		name  string
		email string
	)
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a provider and store its credentials locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := clientFromConfig(cfg)
			if err != nil {
				return err
			}

			registered, err := client.RegisterProvider(cmd.Context(), name, email)
			if err != nil {
				return err
			}

			cfg.ProviderID = registered.ID
			cfg.ProviderSecret = registered.ProviderSecret
			if err := saveConfig(cfg); err != nil {
				return err
			}

			cmd.Printf("Provider %s registered; credentials stored.\n", registered.ID)
			cmd.Println("The provider secret is shown only once; it is now in your local config.")
			return nil
		},
	}
	registerCmd.Flags().StringVar(&name, "name", "", "provider name")
	registerCmd.Flags().StringVar(&email, "email", "", "contact email")

	providersCmd.AddCommand(registerCmd)
	return providersCmd
}

func newAgentsCmd() *cobra.Command {
	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents",
	}

	var (
		name    string
		keyFile string
	)
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent under the configured provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := clientFromConfig(cfg)
			if err != nil {
				return err
			}

			var pair *keys.KeyPair
			if keyFile != "" {
				if pair, err = keys.LoadFile(keyFile); err != nil {
					return err
				}
			} else {
				if pair, err = keys.Generate(keys.DefaultKeySize); err != nil {
					return err
				}
			}

			registered, err := client.RegisterAgent(cmd.Context(), name, pair.PublicKey)
			if err != nil {
				return err
			}

			cfg.AgentID = registered.ID
			cfg.AgentSecret = registered.AgentSecret
			cfg.PrivateKey = pair.PrivateKey
			if err := saveConfig(cfg); err != nil {
				return err
			}

			cmd.Printf("Agent %s registered; credentials stored.\n", registered.ID)
			return nil
		},
	}
	registerCmd.Flags().StringVar(&name, "name", "", "agent name")
	registerCmd.Flags().StringVar(&keyFile, "key-file", "", "existing key pair JSON (generated when omitted)")
	_ = registerCmd.MarkFlagRequired("name")

	var providerID string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the provider's agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := clientFromConfig(cfg)
			if err != nil {
				return err
			}

			target := providerID
			if target == "" {
				target = cfg.ProviderID
			}
			if target == "" {
				return fmt.Errorf("no provider configured; pass --provider-id or register a provider first")
			}

			agents, err := client.ListAgents(cmd.Context(), target)
			if err != nil {
				return err
			}
			return printJSON(cmd, agents)
		},
	}
	listCmd.Flags().StringVar(&providerID, "provider-id", "", "provider to list (defaults to the configured one)")

	agentsCmd.AddCommand(registerCmd, listCmd)
	return agentsCmd
}

func newTokensCmd() *cobra.Command {
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Issue and verify interaction tokens",
	}

	var target string
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Request an interaction token for a target agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := agentClient()
			if err != nil {
				return err
			}
			token, err := client.Token(cmd.Context(), target)
			if err != nil {
				return err
			}
			return printJSON(cmd, token)
		},
	}
	issueCmd.Flags().StringVar(&target, "target", "", "target agent ID")
	_ = issueCmd.MarkFlagRequired("target")

	var (
		token          string
		expectedTarget string
	)
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a presented interaction token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := agentClient()
			if err != nil {
				return err
			}
			verified, err := client.Verify(cmd.Context(), token, expectedTarget)
			if err != nil {
				return err
			}
			return printJSON(cmd, verified)
		},
	}
	verifyCmd.Flags().StringVar(&token, "token", "", "interaction token JWT")
	verifyCmd.Flags().StringVar(&expectedTarget, "expected-target", "", "agent the token should be addressed to")
	_ = verifyCmd.MarkFlagRequired("token")

	var revokeToken string
	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an interaction token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := agentClient()
			if err != nil {
				return err
			}
			if err := client.Revoke(cmd.Context(), revokeToken); err != nil {
				return err
			}
			cmd.Println("Token revoked.")
			return nil
		},
	}
	revokeCmd.Flags().StringVar(&revokeToken, "token", "", "interaction token JWT")
	_ = revokeCmd.MarkFlagRequired("token")

	tokensCmd.AddCommand(issueCmd, verifyCmd, revokeCmd)
	return tokensCmd
}

// agentClient builds a client that must carry agent credentials.
func agentClient() (*sdk.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.AgentID == "" || cfg.AgentSecret == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("no agent configured; run `authed agents register` first")
	}
	return clientFromConfig(cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
