// Package alert turns the engine's infractions and events into findings for
// reporting and alerting.
package alert

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gsambyal/h2inspect/h2"
)

// Severity represents the severity level of a finding
type Severity int

const (
	SeverityChat    Severity = iota // Informational, normal behavior
	SeverityNote                    // Notable but not necessarily problematic
	SeverityWarning                 // Potential issue
	SeverityError                   // Definite problem
)

// String returns a human-readable string for the severity
func (s Severity) String() string {
	switch s {
	case SeverityChat:
		return "Chat"
	case SeverityNote:
		return "Note"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Symbol returns a single character symbol for the severity
func (s Severity) Symbol() string {
	switch s {
	case SeverityChat:
		return "."
	case SeverityNote:
		return "i"
	case SeverityWarning:
		return "!"
	case SeverityError:
		return "X"
	default:
		return "?"
	}
}

// ParseSeverity parses a severity name.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(name) {
	case "chat":
		return SeverityChat, nil
	case "note":
		return SeverityNote, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	}
	return SeverityNote, fmt.Errorf("unknown severity level: %s (use: chat, note, warning, error)", name)
}

// SeverityOf maps an engine event code to its default severity.
func SeverityOf(code h2.Infraction) Severity {
	switch code {
	case h2.InfBadPreface, h2.InfTooManyStreams, h2.InfHpackError,
		h2.InfContinuationExpected, h2.InfUnexpectedContinuation:
		return SeverityError
	case h2.InfOversizeFrame, h2.InfInvalidStreamID, h2.InfBadPushPromise,
		h2.InfPaddingOverflow, h2.InfHeaderListTooLarge:
		return SeverityWarning
	case h2.InfPseudoHeaderMissing, h2.InfPseudoHeaderDuplicate,
		h2.InfPseudoHeaderMisplaced, h2.InfIllegalStateTransition:
		return SeverityNote
	}
	return SeverityNote
}

// Finding is one reported protocol event.
type Finding struct {
	FlowKey   string
	Side      h2.Side
	Code      h2.Infraction
	Severity  Severity
	Timestamp time.Time
}

// String returns a formatted representation.
func (f *Finding) String() string {
	return fmt.Sprintf("[%s] %s %s: %s",
		f.Severity.Symbol(), f.FlowKey, f.Side, f.Code)
}

// Analyzer collects findings across flows.
type Analyzer struct {
	mu              sync.Mutex
	findings        []*Finding
	countBySeverity map[Severity]int
	countByCode     map[h2.Infraction]int
}

// NewAnalyzer creates an empty analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		countBySeverity: make(map[Severity]int),
		countByCode:     make(map[h2.Infraction]int),
	}
}

// Collect drains both directions' event queues of a flow into findings.
func (a *Analyzer) Collect(flowKey string, flow *h2.Flow) []*Finding {
	var results []*Finding
	for side := h2.SideClient; side <= h2.SideServer; side++ {
		for _, code := range flow.DrainEvents(side) {
			results = append(results, &Finding{
				FlowKey:   flowKey,
				Side:      side,
				Code:      code,
				Severity:  SeverityOf(code),
				Timestamp: time.Now(),
			})
		}
	}

	a.mu.Lock()
	for _, finding := range results {
		a.findings = append(a.findings, finding)
		a.countBySeverity[finding.Severity]++
		a.countByCode[finding.Code]++
	}
	a.mu.Unlock()
	return results
}

// Findings returns all collected findings.
func (a *Analyzer) Findings() []*Finding {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Finding, len(a.findings))
	copy(out, a.findings)
	return out
}

// HasIssues reports whether any warnings or errors were collected.
func (a *Analyzer) HasIssues() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.countBySeverity[SeverityWarning] > 0 || a.countBySeverity[SeverityError] > 0
}

// PrintSummary writes a summary of the findings to the writer.
func (a *Analyzer) PrintSummary(w io.Writer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "HTTP/2 Findings Summary")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "Total findings: %d\n\n", len(a.findings))

	fmt.Fprintln(w, "By Severity:")
	severities := []Severity{SeverityError, SeverityWarning, SeverityNote, SeverityChat}
	for _, sev := range severities {
		if count := a.countBySeverity[sev]; count > 0 {
			fmt.Fprintf(w, "  [%s] %-10s: %d\n", sev.Symbol(), sev.String(), count)
		}
	}

	fmt.Fprintln(w, "\nBy Event:")
	for code, count := range a.countByCode {
		fmt.Fprintf(w, "  %-24s: %d\n", code, count)
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintDetails writes every finding at or above the given severity.
func (a *Analyzer) PrintDetails(w io.Writer, minSeverity Severity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintf(w, "%-8s %-8s %-24s %s\n", "Severity", "Side", "Event", "Flow")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, finding := range a.findings {
		if finding.Severity >= minSeverity {
			fmt.Fprintf(w, "%-8s %-8s %-24s %s\n",
				finding.Severity, finding.Side, finding.Code, finding.FlowKey)
		}
	}
}
