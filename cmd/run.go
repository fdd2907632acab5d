package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gsambyal/h2inspect/alert"
	"github.com/gsambyal/h2inspect/capture"
	"github.com/gsambyal/h2inspect/h2"
	"github.com/gsambyal/h2inspect/http1"
	"github.com/gsambyal/h2inspect/tcpflow"
)

// Flags shared by the analysis commands.
var (
	inputFile     string
	inputIface    string
	findingFilter string

	maxStreams    uint32
	maxFrameSize  uint32
	maxHeaderList uint32
	noGzip        bool
	noPush        bool
)

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&inputFile, "read", "r", "", "Input pcap file")
	cmd.Flags().StringVarP(&inputIface, "interface", "i", "", "Network interface for live capture")
	cmd.Flags().StringVarP(&findingFilter, "filter", "Y", "", "Finding filter expression, e.g. 'event == \"TooManyStreams\"'")
	cmd.Flags().Uint32Var(&maxStreams, "max-streams", 0, "Max concurrent streams per connection (default 100)")
	cmd.Flags().Uint32Var(&maxFrameSize, "max-frame-size", 0, "Max accepted frame payload length (default 16384)")
	cmd.Flags().Uint32Var(&maxHeaderList, "max-header-list", 0, "Max accumulated header block size (default 65536)")
	cmd.Flags().BoolVar(&noGzip, "no-gzip", false, "Disable gzip body decoding")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "Disable PUSH_PROMISE stream tracking")
}

// runResult is everything an analysis command needs after the capture has
// been consumed. The table still owns live engine state; callers must
// Destroy it when done.
type runResult struct {
	table    *tcpflow.Table
	analyzer *alert.Analyzer
	packets  int
}

// runInspection drives a full capture through the engine.
func runInspection() (*runResult, error) {
	if inputFile == "" && inputIface == "" {
		return nil, fmt.Errorf("must specify either -r (file) or -i (interface)")
	}
	if inputFile != "" && inputIface != "" {
		return nil, fmt.Errorf("cannot specify both -r and -i")
	}

	var capturer *capture.Capturer
	var err error
	if inputFile != "" {
		capturer, err = capture.NewFileCapturer(inputFile)
	} else {
		capturer, err = capture.NewLiveCapturer(inputIface, 0, true)
	}
	if err != nil {
		return nil, err
	}
	defer capturer.Stop()

	cfg := h2.Config{
		MaxConcurrentStreams: maxStreams,
		MaxFrameSize:         maxFrameSize,
		MaxHeaderListSize:    maxHeaderList,
		GzipAllowed:          !noGzip,
		TrackPushPromise:     !noPush,
	}
	inspector := h2.New(cfg, http1.NewInspector(cfg.GzipAllowed))
	table := tcpflow.NewTable(inspector)

	packets := 0
	for pkt := range capturer.Start() {
		packets++
		table.Process(&tcpflow.Packet{
			SrcIP:     pkt.SrcIP,
			DstIP:     pkt.DstIP,
			SrcPort:   pkt.SrcPort,
			DstPort:   pkt.DstPort,
			Seq:       pkt.Seq,
			Ack:       pkt.Ack,
			SYN:       pkt.SYN,
			ACK:       pkt.ACK,
			FIN:       pkt.FIN,
			RST:       pkt.RST,
			Payload:   pkt.Payload,
			Timestamp: pkt.Timestamp,
		})
	}
	table.Close()

	analyzer := alert.NewAnalyzer()
	for _, conn := range table.Conns() {
		if conn.Flow() != nil {
			analyzer.Collect(conn.Key, conn.Flow())
		}
	}

	return &runResult{table: table, analyzer: analyzer, packets: packets}, nil
}
