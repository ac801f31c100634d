package main

import (
	"fmt"
	"log"
	"os"

	chatsync "github.com/gymdesk-io/chatsync-go"
)

// getClient creates a chat REST client from the stored configuration.
func getClient() (*chatsync.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'gymchat init <token>' first.")
		os.Exit(1)
	}
	if cfg.Default.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No base URL. Run 'gymchat config set default.base_url <url>' first.")
		os.Exit(1)
	}
	return chatsync.NewClient(cfg.Default.BaseURL, cfg.Auth.Token, chatsync.WithLogf(log.Printf)), cfg
}

// getIdentity builds the signed-in identity from config.
func getIdentity(cfg *Config) chatsync.Identity {
	role := chatsync.RoleMember
	if cfg.Auth.Role == string(chatsync.RoleTrainer) {
		role = chatsync.RoleTrainer
	}
	return chatsync.Identity{ID: cfg.Auth.UserID, Role: role}
}

// maskKey shows only the first and last few characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// valueOrDefault returns v, or fallback if v is empty.
func valueOrDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
