package h2

import "sync/atomic"

// Peg identifies one of the process-wide observability counters.
type Peg int

const (
	PegConcurrentSessions Peg = iota
	PegMaxConcurrentSessions
	PegConcurrentStreams
	PegMaxConcurrentStreams
	PegFlowsOverStreamLimit
	pegCount
)

// String returns the peg counter name.
func (p Peg) String() string {
	names := []string{
		"concurrent_sessions",
		"max_concurrent_sessions",
		"concurrent_streams",
		"max_concurrent_streams",
		"flows_over_stream_limit",
	}
	if int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// pegs is the process-wide counter registry. Flows on different goroutines
// share it; all access is atomic.
var pegs [pegCount]atomic.Int64

// inspectorID is assigned once at startup by the enclosing framework.
var inspectorID atomic.Uint32

// RegisterInspectorID records the framework-assigned inspector id. Write-once;
// later calls are ignored.
func RegisterInspectorID(id uint32) {
	inspectorID.CompareAndSwap(0, id)
}

// InspectorID returns the registered inspector id.
func InspectorID() uint32 {
	return inspectorID.Load()
}

// IncrementPeg adds one to a peg counter.
func IncrementPeg(p Peg) {
	pegs[p].Add(1)
}

// DecrementPeg subtracts one from a peg counter, never going below zero.
func DecrementPeg(p Peg) {
	if pegs[p].Load() > 0 {
		pegs[p].Add(-1)
	}
}

// PegCount returns the current value of a peg counter.
func PegCount(p Peg) int64 {
	return pegs[p].Load()
}

// ratchetPeg raises the max peg if the observed value exceeds it. Max pegs
// only ever increase.
func ratchetPeg(max Peg, observed int64) {
	for {
		cur := pegs[max].Load()
		if observed <= cur {
			return
		}
		if pegs[max].CompareAndSwap(cur, observed) {
			return
		}
	}
}

// PegSnapshot returns the current value of every peg counter keyed by name.
func PegSnapshot() map[string]int64 {
	out := make(map[string]int64, pegCount)
	for p := Peg(0); p < pegCount; p++ {
		out[p.String()] = pegs[p].Load()
	}
	return out
}
