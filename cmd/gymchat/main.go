package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.gymchat/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds general settings.
type ConfigDefault struct {
	BaseURL string `toml:"base_url"`
}

// ConfigAuth holds the signed-in identity.
type ConfigAuth struct {
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
	Role   string `toml:"role"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.gymchat, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".gymchat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config. Environment
// variables (optionally from a local .env) override file values.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	} else if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}

	if v := os.Getenv("GYMCHAT_BASE_URL"); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := os.Getenv("GYMCHAT_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("GYMCHAT_USER_ID"); v != "" {
		cfg.Auth.UserID = v
	}
	if v := os.Getenv("GYMCHAT_ROLE"); v != "" {
		cfg.Auth.Role = v
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "auth.token").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. auth.token)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		case "role":
			cfg.Auth.Role = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "gymchat",
	Short: "GymDesk chat CLI",
	Long:  "Command-line interface for the GymDesk realtime chat layer.\nList conversations, watch live events, and chat from the terminal.",
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
