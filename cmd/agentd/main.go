// Agentd is the intelligent-agent request daemon.
//
// It accepts typed requests over HTTP, drives each through the processing
// state machine, assembles conversation and workspace context, and invokes
// the configured model provider with optional MCP tool execution.
//
// Configuration is loaded from a YAML file with AGENTD_* environment
// overrides. See internal/config for the full surface.
//
// Usage:
//
//	# Start with defaults
//	agentd serve
//
//	# Start with a config file
//	agentd serve --config /etc/agentd/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentd",
		Short:         "Intelligent-agent request daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentd by Fyrsmith Labs\n")
			fmt.Fprintf(cmd.OutOrStdout(), "Version:    %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit:     %s\n", gitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), "Build Date: %s\n", buildDate)
		},
	}
}
