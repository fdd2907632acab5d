// Package cmd provides the CLI commands for h2inspect using Cobra.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "h2inspect",
	Short: "Passive HTTP/2 connection inspector",
	Long: `h2inspect passively inspects HTTP/2 traffic from pcap files or live
capture. It reassembles each connection, demultiplexes streams, decodes
HPACK headers and reports the request/response exchanges together with any
protocol violations.

Examples:
  h2inspect inspect -r capture.pcap                 # Transactions + findings
  h2inspect inspect -r capture.pcap --db out.db     # Persist to SQLite
  h2inspect events -r capture.pcap --severity warn  # Findings only
  h2inspect flows -r capture.pcap                   # Per-connection summary
  h2inspect list interfaces                         # List capture interfaces`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "analysis", Title: "Analysis Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(listCmd)
}
