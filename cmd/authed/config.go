package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// cliConfig is the developer-local credential store, kept under ~/.authed.
// PrivateKey is the agent's DPoP signing key PEM.
type cliConfig struct {
	RegistryURL    string `json:"registry_url,omitempty"`
	InternalAPIKey string `json:"internal_api_key,omitempty"`
	ProviderID     string `json:"provider_id,omitempty"`
	ProviderSecret string `json:"provider_secret,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	AgentSecret    string `json:"agent_secret,omitempty"`
	PrivateKey     string `json:"private_key,omitempty"`
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".authed", "config.json"), nil
}

func loadConfig() (*cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cliConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config 0600; it holds credential material.
func saveConfig(cfg *cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func newInitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Manage local CLI configuration",
	}

	var (
		registryURL    string
		internalKey    string
		providerSecret string
	)
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Store registry URL and credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if registryURL != "" {
				cfg.RegistryURL = registryURL
			}
			if internalKey != "" {
				cfg.InternalAPIKey = internalKey
			}
			if providerSecret != "" {
				cfg.ProviderSecret = providerSecret
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			cmd.Println("Configuration saved.")
			return nil
		},
	}
	configCmd.Flags().StringVar(&registryURL, "registry-url", "", "registry base URL")
	configCmd.Flags().StringVar(&internalKey, "internal-api-key", "", "backoffice API key")
	configCmd.Flags().StringVar(&providerSecret, "provider-secret", "", "provider credential")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.InternalAPIKey = redact(cfg.InternalAPIKey)
			redacted.ProviderSecret = redact(cfg.ProviderSecret)
			redacted.AgentSecret = redact(cfg.AgentSecret)
			if cfg.PrivateKey != "" {
				redacted.PrivateKey = "<private key>"
			}
			out, err := json.MarshalIndent(redacted, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove config: %w", err)
			}
			cmd.Println("Configuration cleared.")
			return nil
		},
	}

	initCmd.AddCommand(configCmd, showCmd, clearCmd)
	return initCmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
