package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	chatsync "github.com/gymdesk-io/chatsync-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(watchCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id>",
	Short: "Chat interactively in a conversation",
	Long:  "Open a live session for one conversation: prints history, streams inbound messages, and sends lines typed on stdin. Type /quit to exit.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client, cfg := getClient()
		self := getIdentity(cfg)

		bus := chatsync.NewEventBus()
		conn := chatsync.NewConnection(client.BaseURL(), bus, nil, log.Printf)
		rooms := chatsync.NewRoomCoordinator(conn, bus, log.Printf)
		sync := chatsync.NewSynchronizer(client, conn, bus, self, log.Printf)
		defer func() {
			sync.Close()
			rooms.Close()
			conn.Disconnect()
		}()

		sync.SetOnSendFailed(func(_, content string, err error) {
			fmt.Printf("!! send failed (%v); your text: %s\n", err, content)
		})

		msgSub := bus.On(chatsync.TopicNewMessage, func(payload any) {
			m, ok := payload.(chatsync.Message)
			if !ok || m.ConversationID != conversationID || m.SenderID == self.ID {
				return
			}
			fmt.Printf("<- %s: %s\n", m.SenderID, m.Content)
		})
		defer bus.Off(msgSub)

		connected := make(chan struct{}, 1)
		connSub := bus.On(chatsync.TopicConnected, func(any) {
			select {
			case connected <- struct{}{}:
			default:
			}
		})
		defer bus.Off(connSub)

		conn.Connect(cfg.Auth.Token)
		select {
		case <-connected:
		case <-time.After(15 * time.Second):
			return fmt.Errorf("connection timeout")
		}

		ctx := context.Background()
		if err := sync.Activate(ctx, conversationID); err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		rooms.Join(ctx, conversationID)

		for _, m := range sync.Messages() {
			prefix := "<-"
			if m.SenderID == self.ID {
				prefix = "->"
			}
			fmt.Printf("%s %s: %s\n", prefix, m.SenderID, m.Content)
		}

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "/quit" {
				return nil
			}
			if _, err := sync.SendMessage(ctx, line); err != nil {
				fmt.Printf("!! %v\n", err)
			}
		}
		return scanner.Err()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live chat events to the terminal",
	Long:  "Connect and print every inbound message, receipt, and presence change until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		self := getIdentity(cfg)

		bus := chatsync.NewEventBus()
		conn := chatsync.NewConnection(client.BaseURL(), bus, nil, log.Printf)
		presence := chatsync.NewPresenceTracker(bus)
		sync := chatsync.NewSynchronizer(client, conn, bus, self, log.Printf)
		defer func() {
			sync.Close()
			presence.Close()
			conn.Disconnect()
		}()

		bus.On(chatsync.TopicConnected, func(any) { fmt.Println("[connected]") })
		bus.On(chatsync.TopicDisconnected, func(any) { fmt.Println("[disconnected]") })
		bus.On(chatsync.TopicError, func(payload any) {
			if p, ok := payload.(chatsync.ErrorPayload); ok {
				fmt.Printf("[error] %s\n", p.Message)
			}
		})
		bus.On(chatsync.TopicNewMessage, func(payload any) {
			if m, ok := payload.(chatsync.Message); ok {
				fmt.Printf("[message] %s %s: %s (unread total %d)\n",
					m.ConversationID, m.SenderID, m.Content, sync.UnreadTotal())
			}
		})
		bus.On(chatsync.TopicUserStatus, func(payload any) {
			if p, ok := payload.(chatsync.UserStatusPayload); ok {
				state := "offline"
				if p.IsOnline {
					state = "online"
				}
				fmt.Printf("[presence] %s is %s\n", p.UserID, state)
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := sync.LoadConversations(ctx); err != nil {
			log.Printf("load conversations: %v", err)
		}
		cancel()

		conn.Connect(cfg.Auth.Token)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt)
		<-stop
		return nil
	},
}
