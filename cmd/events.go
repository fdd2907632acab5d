package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gsambyal/h2inspect/alert"
)

var eventsSeverity string

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Report HTTP/2 protocol findings",
	GroupID: "analysis",
	Long: `Run the inspection pipeline and report only the protocol findings:
oversize frames, stream id violations, padding overflows, HPACK failures
and the rest of the event taxonomy.`,
	Example: `  h2inspect events -r capture.pcap
  h2inspect events -r capture.pcap --severity warn
  h2inspect events -r capture.pcap -Y 'event == "BadPushPromise"'`,
	RunE: runEvents,
}

func init() {
	addInputFlags(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsSeverity, "severity", "note",
		"Minimum severity level: chat, note, warning, error")
}

func runEvents(cmd *cobra.Command, args []string) error {
	minSeverity, err := alert.ParseSeverity(eventsSeverity)
	if err != nil {
		return err
	}

	result, err := runInspection()
	if err != nil {
		return err
	}
	defer result.table.Destroy()

	filterFunc, err := alert.Compile(findingFilter)
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d packets\n\n", result.packets)
	if filterFunc == nil {
		result.analyzer.PrintSummary(os.Stdout)
		fmt.Println()
		result.analyzer.PrintDetails(os.Stdout, minSeverity)
		return nil
	}

	for _, finding := range result.analyzer.Findings() {
		if finding.Severity >= minSeverity && filterFunc(finding) {
			fmt.Println(finding)
		}
	}
	return nil
}
