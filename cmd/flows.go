package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gsambyal/h2inspect/h2"
)

var flowsCmd = &cobra.Command{
	Use:     "flows",
	Short:   "Show per-connection HTTP/2 summaries",
	GroupID: "analysis",
	Long: `Run the inspection pipeline and print one summary per HTTP/2 connection:
addresses, live stream table, advertised peer settings, GOAWAY state and
accumulated infractions.`,
	Example: `  h2inspect flows -r capture.pcap`,
	RunE:    runFlows,
}

func init() {
	addInputFlags(flowsCmd)
}

func runFlows(cmd *cobra.Command, args []string) error {
	result, err := runInspection()
	if err != nil {
		return err
	}
	defer result.table.Destroy()

	for _, conn := range result.table.Conns() {
		flow := conn.Flow()
		if flow == nil {
			continue
		}
		fmt.Printf("%s  (%s -> %s)\n", conn.Key, conn.ClientAddr, conn.ServerAddr)
		fmt.Printf("  live streams: %d  push promises: %d  memory: %dB\n",
			flow.ConcurrentStreams(), flow.PushPromises(), flow.BytesCharged())

		for side := h2.SideClient; side <= h2.SideServer; side++ {
			if settings := flow.PeerSettingsFor(side); settings.Seen {
				fmt.Printf("  %s settings: max_streams=%d max_frame=%d table=%d\n",
					side, settings.MaxConcurrentStreams, settings.MaxFrameSize,
					settings.HeaderTableSize)
			}
			if infs := flow.Infractions(side); !infs.Empty() {
				fmt.Printf("  %s infractions:", side)
				for _, inf := range infs.List() {
					fmt.Printf(" %s", inf)
				}
				fmt.Println()
			}
			if flow.Aborted(side) {
				fmt.Printf("  %s direction aborted\n", side)
			}
		}

		if goAway := flow.GoAway(); goAway.Seen {
			fmt.Printf("  goaway: last_stream=%d error=%d\n", goAway.LastStreamID, goAway.ErrorCode)
		}
		if flow.IsMidFrame() {
			fmt.Println("  capture ended mid-frame")
		}
		for _, st := range flow.Streams() {
			fmt.Printf("  stream %d: %s\n", st.ID(), st.State())
		}
		fmt.Println()
	}
	return nil
}
