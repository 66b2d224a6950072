// Package cmd wires the command-line interface of the chat backend.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agui-demo",
	Short: "AG-UI demo chat backend",
	Long: `agui-demo is a demo chat backend bridging a web client to an LLM agent.

It streams AG-UI protocol events over SSE and routes tool calls between
server-side tools and tools declared by the client. Running it without a
subcommand starts the HTTP server.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
