package cmd

import (
	"github.com/carousell/ct-go/pkg/logger/log"
	"github.com/spf13/cobra"

	"github.com/nguyentranbao-ct/chat-relay/internal/app"
	"github.com/nguyentranbao-ct/chat-relay/internal/kafka"
	"github.com/nguyentranbao-ct/chat-relay/internal/server"
)

var rootCmd = &cobra.Command{
	Use:           "chat-relay",
	Short:         "Relays Viber, Facebook and Telegram chats to human operators",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		app.Invoke(
			app.EnsureIndexes,
			server.StartServer,
			kafka.StartBusynessConsumer,
		).Run()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
