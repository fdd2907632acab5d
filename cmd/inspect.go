package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gsambyal/h2inspect/alert"
	"github.com/gsambyal/h2inspect/h2"
	"github.com/gsambyal/h2inspect/http1"
	"github.com/gsambyal/h2inspect/pkg/model"
	"github.com/gsambyal/h2inspect/pkg/store/sqlite"
	"github.com/gsambyal/h2inspect/tcpflow"
)

var (
	inspectDBPath   string
	inspectShowPegs bool
)

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Short:   "Inspect HTTP/2 traffic and report transactions",
	GroupID: "analysis",
	Long: `Run the full inspection pipeline over a capture: TCP reassembly, HTTP/2
frame and stream demultiplexing, HPACK decoding, and HTTP/1-shaped message
reconstruction. Prints every observed transaction and a findings summary.`,
	Example: `  h2inspect inspect -r capture.pcap
  h2inspect inspect -r capture.pcap --db results.db
  h2inspect inspect -i eth0 --max-streams 200`,
	RunE: runInspect,
}

func init() {
	addInputFlags(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectDBPath, "db", "", "Persist transactions and events to this SQLite file")
	inspectCmd.Flags().BoolVar(&inspectShowPegs, "pegs", false, "Print global peg counters after the run")
}

func runInspect(cmd *cobra.Command, args []string) error {
	result, err := runInspection()
	if err != nil {
		return err
	}
	defer result.table.Destroy()

	filterFunc, err := alert.Compile(findingFilter)
	if err != nil {
		return err
	}

	transactions := collectTransactions(result.table)
	findings := filteredFindings(result.analyzer, filterFunc)

	fmt.Printf("Processed %d packets, %d HTTP/2 connections\n\n", result.packets, countHTTP2(result.table))

	fmt.Println("Transactions:")
	if len(transactions) == 0 {
		fmt.Println("  (none)")
	}
	for _, t := range transactions {
		line := fmt.Sprintf("  %-40s", t.RequestLine)
		if t.Authority != "" {
			line += fmt.Sprintf(" host=%s", t.Authority)
		}
		if t.Status > 0 {
			line += fmt.Sprintf(" -> %d", t.Status)
		}
		fmt.Printf("%s (req %dB, resp %dB)\n", line, t.RequestBodyBytes, t.ResponseBodyBytes)
	}
	fmt.Println()

	result.analyzer.PrintSummary(os.Stdout)

	if inspectDBPath != "" {
		if err := persist(inspectDBPath, transactions, findings); err != nil {
			return err
		}
		fmt.Printf("\nSaved %d transactions and %d events to %s\n",
			len(transactions), len(findings), inspectDBPath)
	}

	if inspectShowPegs {
		fmt.Println("\nPeg counters:")
		snapshot := h2.PegSnapshot()
		for _, name := range []string{
			"concurrent_sessions", "max_concurrent_sessions",
			"concurrent_streams", "max_concurrent_streams",
			"flows_over_stream_limit",
		} {
			fmt.Printf("  %-26s %d\n", name, snapshot[name])
		}
	}
	return nil
}

// collectTransactions pairs each connection's recorded requests with its
// responses in completion order.
func collectTransactions(table *tcpflow.Table) []*model.Transaction {
	var out []*model.Transaction
	for _, conn := range table.Conns() {
		if conn.Sink() == nil {
			continue
		}
		var requests, responses []*http1.Message
		for _, msg := range conn.Sink().Messages() {
			if msg.Kind == h2.KindRequest {
				requests = append(requests, msg)
			} else {
				responses = append(responses, msg)
			}
		}
		for i, req := range requests {
			t := &model.Transaction{
				FlowKey:          conn.Key,
				RequestLine:      req.StartLine,
				Method:           req.Method(),
				Authority:        req.Headers["host"],
				Path:             req.Path(),
				RequestBodyBytes: len(req.Body),
				Timestamp:        conn.StartTime,
			}
			if i < len(responses) {
				resp := responses[i]
				t.ResponseLine = resp.StartLine
				t.Status = resp.StatusCode()
				t.ResponseBodyBytes = len(resp.Body)
			}
			out = append(out, t)
		}
	}
	return out
}

// filteredFindings applies the finding filter expression, if any.
func filteredFindings(analyzer *alert.Analyzer, filterFunc func(*alert.Finding) bool) []*alert.Finding {
	findings := analyzer.Findings()
	if filterFunc == nil {
		return findings
	}
	var out []*alert.Finding
	for _, f := range findings {
		if filterFunc(f) {
			out = append(out, f)
		}
	}
	return out
}

// persist writes the run's records to a SQLite store in one batch.
func persist(dbPath string, transactions []*model.Transaction, findings []*alert.Finding) error {
	db, err := sqlite.New(sqlite.Config{DBPath: dbPath, WAL: true})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.BeginBatch(); err != nil {
		return err
	}
	for _, t := range transactions {
		if err := db.InsertTransaction(t); err != nil {
			return err
		}
	}
	for _, f := range findings {
		event := &model.Event{
			FlowKey:   f.FlowKey,
			Side:      f.Side.String(),
			Code:      f.Code.String(),
			Severity:  f.Severity.String(),
			Timestamp: f.Timestamp,
		}
		if err := db.InsertEvent(event); err != nil {
			return err
		}
	}
	return db.CommitBatch()
}

func countHTTP2(table *tcpflow.Table) int {
	n := 0
	for _, conn := range table.Conns() {
		if conn.IsHTTP2() {
			n++
		}
	}
	return n
}
