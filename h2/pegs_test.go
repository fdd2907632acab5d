package h2

import "testing"

func TestInspectorIDWriteOnce(t *testing.T) {
	RegisterInspectorID(7)
	RegisterInspectorID(9)
	if got := InspectorID(); got != 7 {
		t.Errorf("inspector id = %d, want the first registration to stick", got)
	}
}

func TestPegSnapshot(t *testing.T) {
	snapshot := PegSnapshot()
	for _, name := range []string{
		"concurrent_sessions", "max_concurrent_sessions",
		"concurrent_streams", "max_concurrent_streams",
		"flows_over_stream_limit",
	} {
		if _, ok := snapshot[name]; !ok {
			t.Errorf("snapshot missing %s", name)
		}
	}
}

func TestRatchetPeg(t *testing.T) {
	before := PegCount(PegMaxConcurrentStreams)
	ratchetPeg(PegMaxConcurrentStreams, before+10)
	if got := PegCount(PegMaxConcurrentStreams); got != before+10 {
		t.Errorf("max peg = %d, want %d", got, before+10)
	}
	ratchetPeg(PegMaxConcurrentStreams, before)
	if got := PegCount(PegMaxConcurrentStreams); got != before+10 {
		t.Error("max pegs must never decrease")
	}
}
