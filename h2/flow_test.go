package h2

import (
	"fmt"
	"testing"
)

// Exactly max_concurrent_streams streams can coexist; the next creation
// raises TooManyStreams once and aborts both directions.
func TestStreamConcurrencyCap(t *testing.T) {
	const streamCap = 100
	h := newHarness(Config{MaxConcurrentStreams: streamCap})
	defer h.close(t)
	h.sendPreface()

	for i := 0; i < streamCap; i++ {
		id := uint32(2*i + 1)
		h.send(SideClient, h.headersFrame(t, SideClient, id, FlagEndHeaders,
			getFields(fmt.Sprintf("/%d", id), "example.com")))
	}
	if got := h.flow.ConcurrentStreams(); got != streamCap {
		t.Fatalf("concurrent streams = %d, want %d", got, streamCap)
	}
	if h.flow.Aborted(SideClient) || h.flow.Aborted(SideServer) {
		t.Fatal("flow aborted before the streamCap was exceeded")
	}

	// The 101st stream.
	h.send(SideClient, h.headersFrame(t, SideClient, 2*streamCap+1, FlagEndHeaders,
		getFields("/over", "example.com")))

	if !h.flow.Infractions(SideClient).Has(InfTooManyStreams) {
		t.Error("TooManyStreams infraction not raised")
	}
	if !h.flow.Aborted(SideClient) || !h.flow.Aborted(SideServer) {
		t.Error("both directions should be aborted")
	}
	if got := h.flow.ConcurrentStreams(); got != streamCap {
		t.Errorf("concurrent streams = %d after refusal, want %d", got, streamCap)
	}

	events := h.flow.DrainEvents(SideClient)
	count := 0
	for _, e := range events {
		if e == InfTooManyStreams {
			count++
		}
	}
	if count != 1 {
		t.Errorf("TooManyStreams raised %d times, want exactly once", count)
	}
}

// Stream ids initiated by one side must strictly increase across
// non-housekeeping frames.
func TestStreamIDMonotonicity(t *testing.T) {
	h := newHarness(Config{})
	defer h.close(t)
	h.sendPreface()

	h.send(SideClient, h.headersFrame(t, SideClient, 3, FlagEndHeaders, getFields("/a", "x")))
	h.send(SideClient, h.headersFrame(t, SideClient, 1, FlagEndHeaders, getFields("/b", "x")))

	if !h.flow.Infractions(SideClient).Has(InfInvalidStreamID) {
		t.Error("InvalidStreamId infraction not raised")
	}
	if h.flow.findStream(1) != nil {
		t.Error("stream 1 must not be created after stream 3")
	}
	if h.flow.findStream(3) == nil {
		t.Error("stream 3 should exist")
	}
	if h.flow.Aborted(SideClient) {
		t.Error("a stale stream id is stream-local, not a flow abort")
	}
}

// Housekeeping frames never keep a stream alive: an entry created for one is
// deleted as soon as the frame completes.
func TestHousekeepingTransientStream(t *testing.T) {
	h := newHarness(Config{})
	defer h.close(t)
	h.sendPreface()

	h.send(SideClient, buildFrame(FrameWindowUpdate, 0, 7, []byte{0, 0, 0xff, 0xff}))

	if h.flow.findStream(7) != nil {
		t.Error("housekeeping stream should be deleted after the frame")
	}
	if got := h.flow.ConcurrentStreams(); got != 0 {
		t.Errorf("concurrent streams = %d, want 0", got)
	}

	// And it must not poison the monotonicity bound for real streams.
	h.send(SideClient, h.headersFrame(t, SideClient, 5, FlagEndHeaders, getFields("/", "x")))
	if h.flow.findStream(5) == nil {
		t.Error("stream 5 should be created")
	}
}

// Stream memory is tracked in blocks of 25; the tracked count is always a
// multiple of the increment and covers the live stream count.
func TestStreamMemoryAccounting(t *testing.T) {
	h := newHarness(Config{})
	defer h.close(t)
	h.sendPreface()

	check := func(context string) {
		t.Helper()
		tracked := h.flow.StreamMemoryTracked()
		concurrent := h.flow.ConcurrentStreams()
		if tracked%streamMemoryIncrement != 0 {
			t.Errorf("%s: tracked %d not a multiple of %d", context, tracked, streamMemoryIncrement)
		}
		if concurrent > tracked {
			t.Errorf("%s: %d streams but only %d tracked", context, concurrent, tracked)
		}
		if tracked > concurrent+streamMemoryIncrement {
			t.Errorf("%s: tracked %d exceeds %d streams by more than one block",
				context, tracked, concurrent)
		}
	}

	if h.flow.StreamMemoryTracked() != 0 {
		t.Fatal("no blocks should be charged before the first stream")
	}

	for i := 0; i < 30; i++ {
		id := uint32(2*i + 1)
		h.send(SideClient, h.headersFrame(t, SideClient, id, FlagEndHeaders, getFields("/", "x")))
		check(fmt.Sprintf("after stream %d", id))
	}
	if h.flow.StreamMemoryTracked() != 2*streamMemoryIncrement {
		t.Errorf("tracked = %d, want 50", h.flow.StreamMemoryTracked())
	}

	// Closing streams releases blocks only at block granularity.
	for i := 29; i >= 0; i-- {
		id := uint32(2*i + 1)
		h.send(SideClient, buildFrame(FrameRSTStream, 0, id, []byte{0, 0, 0, 8}))
		check(fmt.Sprintf("after reset of stream %d", id))
	}
	if got := h.flow.ConcurrentStreams(); got != 0 {
		t.Errorf("concurrent streams = %d after all resets", got)
	}
}

// Stream 0 is reserved for connection-level frames and never counts against
// the limit.
func TestStreamZeroIsFree(t *testing.T) {
	h := newHarness(Config{})
	defer h.close(t)
	h.sendPreface()

	h.send(SideClient, buildFrame(FrameSettings, 0, 0, nil))
	if got := h.flow.ConcurrentStreams(); got != 0 {
		t.Errorf("concurrent streams = %d, want 0", got)
	}
	if h.flow.StreamMemoryTracked() != 0 {
		t.Error("stream 0 must not charge stream memory")
	}
}

// Destroy-then-reconstruct is a no-op on the global peg counters, and
// CONCURRENT_SESSIONS follows the number of live flows.
func TestPegBalance(t *testing.T) {
	sink := newStubDownstream()
	in := New(Config{}, sink)

	sessionsBefore := PegCount(PegConcurrentSessions)
	streamsBefore := PegCount(PegConcurrentStreams)

	flows := make([]*Flow, 3)
	for i := range flows {
		flows[i] = in.NewFlow()
	}
	if got := PegCount(PegConcurrentSessions); got != sessionsBefore+3 {
		t.Errorf("concurrent sessions = %d, want %d", got, sessionsBefore+3)
	}

	enc := newHeaderEncoder()
	in.OnSegment(flows[0], SideClient, ConnectionPreface)
	in.OnSegment(flows[0], SideClient,
		buildFrame(FrameHeaders, FlagEndHeaders, 1, enc.block(t, getFields("/", "x")...)))
	if got := PegCount(PegConcurrentStreams); got != streamsBefore+1 {
		t.Errorf("concurrent streams = %d, want %d", got, streamsBefore+1)
	}

	for _, f := range flows {
		in.Destroy(f)
	}
	if got := PegCount(PegConcurrentSessions); got != sessionsBefore {
		t.Errorf("concurrent sessions = %d after destroy, want %d", got, sessionsBefore)
	}
	if got := PegCount(PegConcurrentStreams); got != streamsBefore {
		t.Errorf("concurrent streams = %d after destroy, want %d", got, streamsBefore)
	}
}

// Tearing a flow down releases every accounting charge it made.
func TestDestroyReleasesAccounting(t *testing.T) {
	h := newHarness(Config{})
	h.sendPreface()
	for i := 0; i < 5; i++ {
		h.send(SideClient, h.headersFrame(t, SideClient, uint32(2*i+1), FlagEndHeaders, getFields("/", "x")))
	}
	if h.flow.BytesCharged() == 0 {
		t.Fatal("expected accounting charges for live streams")
	}
	h.in.Destroy(h.flow)
	if got := h.flow.BytesCharged(); got != 0 {
		t.Errorf("bytes charged = %d after destroy, want 0", got)
	}
	if h.flow.StreamMemoryTracked() != 0 {
		t.Error("tracked blocks remain after destroy")
	}
}
