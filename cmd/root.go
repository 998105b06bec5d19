// Package cmd implements the twincore command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "twincore",
	Short: "twincore - conversational retrieval and decision core for digital twins",
	Long: `twincore serves the per-turn pipeline behind a digital twin chat product:
query rewriting, evidence retrieval, reranking, and the persona decision
engine. Running twincore without a subcommand starts the HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
