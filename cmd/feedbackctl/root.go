package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"feedbackd/pkg/client"
)

const defaultServer = "http://localhost:8081"

// app carries state shared by every subcommand.
type app struct {
	server  string
	timeout time.Duration
	client  *client.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	server := os.Getenv("FEEDBACKD_URL")
	if server == "" {
		server = defaultServer
	}

	rootCmd := &cobra.Command{
		Use:          "feedbackctl",
		Short:        "Request, review and collect transaction feedback",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.client = client.New(a.server)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.server, "server", server, "feedbackd base URL (FEEDBACKD_URL)")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "give up after this long (0 waits forever)")

	rootCmd.AddCommand(
		requestCommand(a),
		pendingCommand(a),
		submitCommand(a),
		resultCommand(a),
		categoriesCommand(a),
		historyCommand(a),
		reviewCommand(a),
	)
	return rootCmd
}
