package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	conversationsLimit int
	conversationsJSON  bool
)

func init() {
	conversationsCmd.Flags().IntVar(&conversationsLimit, "limit", 20, "maximum conversations to list")
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "output raw JSON")
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		self := getIdentity(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conversations, err := client.Conversations.List(ctx, 0, conversationsLimit)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}

		if conversationsJSON {
			data, err := json.MarshalIndent(conversations, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(conversations) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		for _, cv := range conversations {
			counterpart := cv.Trainer
			if self.Role == "trainer" {
				counterpart = cv.Member
			}
			marker := " "
			if cv.UnreadCount > 0 {
				marker = fmt.Sprintf("%d", cv.UnreadCount)
			}
			fmt.Printf("%-26s %-20s [%s] %s\n",
				cv.ID, counterpart.DisplayName, marker, cv.LastMessage)
		}
		return nil
	},
}
