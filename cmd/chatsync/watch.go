package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	chatsync "github.com/chatsync-dev/chatsync-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Follow a conversation live",
	Long:  "Connect the realtime channel, join the conversation's room, and print pushed messages and typing states until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Default.LogLevel)

		client := getClient(cfg)
		channel := chatsync.NewChannel(client.BaseURL(), cfg.Default.Token,
			&chatsync.ChannelConfig{AutoReconnect: true},
			chatsync.WithChannelLogger(log),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = channel.Connect(ctx)
		cancel()
		if err != nil {
			return err
		}
		defer channel.Disconnect()

		session := chatsync.OpenSession(client, channel, args[0], selfUser(cfg),
			chatsync.WithSessionLogger(log),
		)
		defer session.Close()

		loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
		err = session.LoadMore(loadCtx)
		cancelLoad()
		if err != nil {
			return err
		}

		seen := make(map[string]bool)
		for m := range session.Messages() {
			printMessage(m)
			seen[m.ID] = true
		}
		fmt.Println("-- watching; ctrl-c to stop --")

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		lastTyping := ""
		for {
			select {
			case <-stop:
				return nil
			case <-ticker.C:
				for m := range session.Messages() {
					if !seen[m.ID] {
						printMessage(m)
						seen[m.ID] = true
					}
				}
				if typing := strings.Join(session.TypingUsers(), ", "); typing != lastTyping {
					if typing != "" {
						fmt.Printf("  [%s typing…]\n", typing)
					}
					lastTyping = typing
				}
				if !session.IsConnected() {
					fmt.Println("  [disconnected, reconnecting]")
				}
			}
		}
	},
}
