package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and unread count",
	Long:  "Display the current configuration and fetch the live unread message total.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:    %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:    (not set)")
		}
		fmt.Printf("  User ID:  %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		fmt.Printf("  Role:     %s\n", valueOrDefault(cfg.Auth.Role, "(not set)"))

		if cfg.Auth.Token == "" || cfg.Default.BaseURL == "" {
			return nil
		}

		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		total, err := client.Conversations.UnreadTotal(ctx)
		if err != nil {
			fmt.Printf("\nUnread:   (unavailable: %v)\n", err)
			return nil
		}
		fmt.Printf("\nUnread:   %d\n", total)
		return nil
	},
}
