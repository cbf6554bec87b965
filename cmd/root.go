// Package cmd implements the ambassador command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion records the build version for the version command.
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "ambassador",
	Short: "MCP Ambassador: a trusted intermediary between AI-agent hosts and downstream tool servers",
	Long: `The MCP Ambassador sits between untrusted AI-agent hosts and a fleet of
downstream MCP tool servers. Hosts register with a preshared client key,
request a tool catalog and invoke tools; the ambassador authenticates each
request, authorizes it against the client's tool profile, validates
arguments, routes the call to the owning downstream server, and records an
immutable audit trail.`,
	SilenceUsage: true,
}

// Execute runs the CLI, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
