package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initBaseURL string
	initUserID  string
	initRole    string
)

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "chat backend base URL")
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "signed-in user id")
	initCmd.Flags().StringVar(&initRole, "role", "member", "sender role (member or trainer)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store the bearer token in ~/.gymchat/config.toml",
	Long:  "Initialize the gymchat CLI by storing your bearer token and identity in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}
		if initUserID != "" {
			cfg.Auth.UserID = initUserID
		}
		if initRole != "" {
			cfg.Auth.Role = initRole
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}
