package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chatsync "github.com/chatsync-dev/chatsync-go"
	"github.com/spf13/cobra"
)

var (
	historyPages int
	historyJSON  bool
)

func init() {
	historyCmd.Flags().IntVar(&historyPages, "pages", 1, "number of history pages to fetch")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output raw JSON")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(markReadCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Fetch and print a conversation timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := getClient(cfg)
		channel := chatsync.NewChannel(client.BaseURL(), cfg.Default.Token, nil)
		session := chatsync.OpenSession(client, channel, args[0], selfUser(cfg))
		defer session.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for i := 0; i < historyPages && session.HasMore(); i++ {
			if err := session.LoadMore(ctx); err != nil {
				return err
			}
		}

		if historyJSON {
			var msgs []chatsync.Message
			for m := range session.Messages() {
				msgs = append(msgs, m)
			}
			out, err := json.MarshalIndent(msgs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		for m := range session.Messages() {
			printMessage(m)
		}
		if session.HasMore() {
			fmt.Println("… older messages available (increase --pages)")
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := getClient(cfg)
		channel := chatsync.NewChannel(client.BaseURL(), cfg.Default.Token, nil)
		session := chatsync.OpenSession(client, channel, args[0], selfUser(cfg))
		defer session.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msg, err := session.Send(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

var markReadCmd = &cobra.Command{
	Use:   "mark-read <conversation-id> [message-id]",
	Short: "Mark one message, or the whole conversation, as read",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := getClient(cfg)
		channel := chatsync.NewChannel(client.BaseURL(), cfg.Default.Token, nil)
		session := chatsync.OpenSession(client, channel, args[0], selfUser(cfg))
		defer session.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if len(args) == 2 {
			return session.MarkMessageAsRead(ctx, args[1])
		}
		return session.MarkAllAsRead(ctx)
	},
}

func printMessage(m chatsync.Message) {
	marker := " "
	if !m.Read {
		marker = "*"
	}
	name := m.Sender.DisplayName
	if name == "" {
		name = m.Sender.ID
	}
	fmt.Printf("%s %s  %-20s %s\n", marker, m.CreatedAt.Local().Format("15:04:05"), name, m.Content)
}
