package h2

import "unsafe"

// Side identifies one direction of a flow.
type Side int

const (
	SideClient Side = iota // client to server
	SideServer             // server to client
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "server"
}

// Other returns the opposite direction.
func (s Side) Other() Side {
	return 1 - s
}

// Streams are charged to the accounting subsystem in blocks of this many
// streams. The paired increment/decrement must stay block-granular so the
// rounding balances.
const streamMemoryIncrement = 25

// streamMemorySize approximates the footprint of one stream: the struct plus
// its slot in the stream list.
var streamMemorySize = int(unsafe.Sizeof(Stream{})) + int(unsafe.Sizeof((*Stream)(nil)))

var streamIncrementMemorySize = streamMemoryIncrement * streamMemorySize

// direction is the per-direction substate of a flow.
type direction struct {
	splitter frameSplitter
	hpack    HeaderDecoder

	infractions InfractionSet
	events      EventQueue

	// Cursor over the frame currently being processed.
	frameType     uint8
	frameLength   uint32
	currentStream uint32

	// Highest stream id initiated from this side by a non-housekeeping
	// frame. Later non-housekeeping ids from the same side must exceed it.
	maxStreamID uint32

	// continuationExpected is set by a HEADERS or PUSH_PROMISE frame
	// without END_HEADERS; the next frame on this side must be a
	// CONTINUATION for continuationTarget.
	continuationExpected bool
	continuationTarget   uint32
	continuationKind     MessageKind
}

// PeerSettings is the last non-ACK SETTINGS frame seen from one side,
// recorded for observability only. The inspector never participates in flow
// control.
type PeerSettings struct {
	Seen                 bool
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

func defaultPeerSettings() PeerSettings {
	return PeerSettings{
		HeaderTableSize:   4096,
		EnablePush:        true,
		InitialWindowSize: 65535,
		MaxFrameSize:      16384,
	}
}

func (s *PeerSettings) apply(settings []Setting) {
	s.Seen = true
	for _, set := range settings {
		switch set.ID {
		case SettingHeaderTableSize:
			s.HeaderTableSize = set.Value
		case SettingEnablePush:
			s.EnablePush = set.Value != 0
		case SettingMaxConcurrentStreams:
			s.MaxConcurrentStreams = set.Value
		case SettingInitialWindowSize:
			s.InitialWindowSize = set.Value
		case SettingMaxFrameSize:
			s.MaxFrameSize = set.Value
		case SettingMaxHeaderListSize:
			s.MaxHeaderListSize = set.Value
		}
	}
}

// GoAwayInfo records a GOAWAY frame seen on the flow.
type GoAwayInfo struct {
	Seen         bool
	LastStreamID uint32
	ErrorCode    uint32
}

// Flow is the per-connection state of the inspector. It is single-threaded:
// the enclosing framework serializes callbacks per flow, so no internal
// locking exists. All cross-flow state lives in the peg counters.
type Flow struct {
	cfg        *Config
	downstream Downstream

	dirs [2]direction

	// streams is front-inserted and scanned linearly: the cap is small and
	// frames overwhelmingly target the most recent stream.
	streams           []*Stream
	concurrentStreams uint32

	// processingStreamID is transient: set when a frame begins processing,
	// cleared when it completes.
	processingStreamID uint32

	// deleteStream tags a stream created solely for a housekeeping frame
	// for removal once the frame completes.
	deleteStream bool

	// streamInHI is the stream currently holding the downstream HTTP/1
	// inspector's context.
	streamInHI uint32

	// abortFlow is sticky per direction; once set, further bytes on that
	// side are discarded.
	abortFlow [2]bool

	// memTracked counts the stream slots charged to accounting, always a
	// multiple of streamMemoryIncrement.
	memTracked   uint32
	bytesCharged int

	peerSettings [2]PeerSettings
	goAway       GoAwayInfo
	pushPromises int

	eof [2]bool
}

func newFlow(cfg *Config, downstream Downstream) *Flow {
	f := &Flow{
		cfg:                cfg,
		downstream:         downstream,
		processingStreamID: NoStreamID,
		streamInHI:         NoStreamID,
	}
	for side := SideClient; side <= SideServer; side++ {
		f.dirs[side] = direction{
			splitter:      newFrameSplitter(side, cfg.MaxFrameSize),
			hpack:         NewHeaderDecoder(cfg.MaxHeaderListSize),
			currentStream: NoStreamID,
		}
		f.peerSettings[side] = defaultPeerSettings()
	}
	return f
}

// infraction records an infraction and its matching event on a direction.
func (f *Flow) infraction(side Side, code Infraction) {
	f.dirs[side].infractions.Add(code)
	f.dirs[side].events.Create(code)
}

// findStream returns the stream with the given id, or nil. Linear scan:
// streams are few and frames overwhelmingly target the front of the list.
func (f *Flow) findStream(id uint32) *Stream {
	for _, st := range f.streams {
		if st.id == id {
			return st
		}
	}
	return nil
}

// setProcessingStreamID selects the stream the current frame acts on. For
// PUSH_PROMISE frames with a well-formed promised id that is the promised
// stream; everything else processes on the frame's own stream id.
func (f *Flow) setProcessingStreamID(side Side, frame *Frame) {
	f.processingStreamID = NoStreamID
	switch {
	case frame.Type == FramePushPromise && f.cfg.TrackPushPromise:
		if id, ok := f.promisedStreamID(side, frame); ok {
			f.processingStreamID = id
		}
	case frame.Type == FrameContinuation && f.dirs[side].continuationExpected:
		// CONTINUATION carries the parent frame's stream id on the wire but
		// extends whatever block that frame started, which for PUSH_PROMISE
		// is the promised stream's.
		f.processingStreamID = f.dirs[side].continuationTarget
	}
	if f.processingStreamID == NoStreamID {
		f.processingStreamID = f.dirs[side].currentStream
	}
}

// promisedStreamID extracts and validates the promised stream id of a
// PUSH_PROMISE frame. Promised streams are server-initiated: the id must be
// even, nonzero, above every server-side id seen, and not collide with a
// live stream.
func (f *Flow) promisedStreamID(side Side, frame *Frame) (uint32, bool) {
	p, err := frame.ParsePushPromisePayload()
	if err != nil || side != SideServer {
		f.infraction(side, InfBadPushPromise)
		return NoStreamID, false
	}
	id := p.PromisedStreamID
	if id == 0 || id%2 != 0 || id <= f.dirs[SideServer].maxStreamID || f.findStream(id) != nil {
		f.infraction(side, InfBadPushPromise)
		return NoStreamID, false
	}
	return id, true
}

// getProcessingStream resolves the processing stream, creating it on first
// reference. Creation is subject to the concurrency cap and, for
// non-housekeeping frames, to per-side id monotonicity. Streams created for
// housekeeping frames are tagged for deletion once the frame completes.
func (f *Flow) getProcessingStream(side Side) *Stream {
	key := f.processingStreamID
	if key == NoStreamID {
		return nil
	}
	if st := f.findStream(key); st != nil {
		return st
	}

	if f.concurrentStreams >= f.cfg.MaxConcurrentStreams && key > 0 {
		f.infraction(side, InfTooManyStreams)
		IncrementPeg(PegFlowsOverStreamLimit)
		f.abortFlow[SideClient] = true
		f.abortFlow[SideServer] = true
		return nil
	}

	if key != 0 {
		if !isHousekeeping(f.dirs[side].frameType) {
			// With both directions visible, odd ids are client-initiated
			// and even ids server-initiated. A PUSH_PROMISE promises a
			// server stream, so its ordering is checked against the
			// server side regardless of the frame's own direction.
			initiator := side
			if f.dirs[side].frameType == FramePushPromise {
				initiator = SideServer
			}
			onExpectedSide := (key%2 == 1 && initiator == SideClient) ||
				(key%2 == 0 && initiator == SideServer)
			if onExpectedSide {
				if key <= f.dirs[initiator].maxStreamID {
					f.infraction(side, InfInvalidStreamID)
					return nil
				}
				f.dirs[initiator].maxStreamID = key
			}
		} else {
			// A housekeeping frame must not recreate and keep an already
			// completed stream.
			f.deleteStream = true
		}
	}

	st := newStream(key)
	f.streams = append(f.streams, nil)
	copy(f.streams[1:], f.streams)
	f.streams[0] = st

	// Stream 0 carries connection-level frames and is free.
	if key > 0 {
		f.concurrentStreams++
		IncrementPeg(PegConcurrentStreams)
		ratchetPeg(PegMaxConcurrentStreams, int64(f.concurrentStreams))
		if f.concurrentStreams > f.memTracked {
			f.chargeStreamIncrement()
		}
	}
	return st
}

// deleteStreamEntry removes and destroys a stream.
func (f *Flow) deleteStreamEntry(st *Stream) {
	for i, cur := range f.streams {
		if cur != st {
			continue
		}
		f.streams = append(f.streams[:i], f.streams[i+1:]...)
		if st.id == f.streamInHI {
			f.streamInHI = NoStreamID
		}
		if st.hiHandle != nil {
			f.deallocateHIMemory(st)
			st.hiHandle = nil
		}
		if st.id > 0 {
			f.concurrentStreams--
			DecrementPeg(PegConcurrentStreams)
			f.releaseStreamIncrements()
		}
		return
	}
}

// finishFrame clears the per-frame state: the processing stream selection
// and, for housekeeping-created streams, the stream itself. Streams that
// reached their end of life are destroyed here.
func (f *Flow) finishFrame() {
	if f.processingStreamID != NoStreamID {
		if st := f.findStream(f.processingStreamID); st != nil {
			if f.deleteStream || st.deletable() {
				f.deleteStreamEntry(st)
			}
		}
	}
	f.deleteStream = false
	f.processingStreamID = NoStreamID
}

// chargeStreamIncrement charges one block of stream memory.
func (f *Flow) chargeStreamIncrement() {
	f.updateAllocations(streamIncrementMemorySize)
	f.memTracked += streamMemoryIncrement
}

// releaseStreamIncrements releases whole blocks no longer needed for the
// current stream count. Only whole blocks are ever released so the pairing
// with chargeStreamIncrement balances.
func (f *Flow) releaseStreamIncrements() {
	needed := (f.concurrentStreams + streamMemoryIncrement - 1) /
		streamMemoryIncrement * streamMemoryIncrement
	for f.memTracked >= streamMemoryIncrement && f.memTracked-streamMemoryIncrement >= needed {
		f.updateDeallocations(streamIncrementMemorySize)
		f.memTracked -= streamMemoryIncrement
	}
}

func (f *Flow) updateAllocations(n int)   { f.bytesCharged += n }
func (f *Flow) updateDeallocations(n int) { f.bytesCharged -= n }

// allocateHIMemory charges the downstream inspector's self-reported handle
// footprint and remembers the amount: the handle may grow before release.
func (f *Flow) allocateHIMemory(st *Stream) {
	st.hiCharged = f.downstream.SizeOf(st.hiHandle)
	f.updateAllocations(st.hiCharged)
}

// deallocateHIMemory releases exactly what was charged for the handle.
func (f *Flow) deallocateHIMemory(st *Stream) {
	f.updateDeallocations(st.hiCharged)
	st.hiCharged = 0
}

// destroy tears the flow down: every stream is released, downstream handles
// are dropped and all outstanding stream-memory blocks are de-accounted.
func (f *Flow) destroy() {
	for _, st := range f.streams {
		if st.hiHandle != nil {
			f.deallocateHIMemory(st)
			st.hiHandle = nil
		}
		if st.id > 0 {
			DecrementPeg(PegConcurrentStreams)
		}
	}
	f.streams = nil
	f.concurrentStreams = 0
	f.streamInHI = NoStreamID
	for f.memTracked >= streamMemoryIncrement {
		f.updateDeallocations(streamIncrementMemorySize)
		f.memTracked -= streamMemoryIncrement
	}
	for side := SideClient; side <= SideServer; side++ {
		f.dirs[side].hpack.Reset()
		f.dirs[side].events.Drain()
	}
}

// IsMidFrame reports whether the server side sits inside a frame: a partial
// frame header or payload, or an expected CONTINUATION. The enclosing
// framework uses this to decide whether the flow can be released early.
func (f *Flow) IsMidFrame() bool {
	return f.dirs[SideServer].splitter.midFrame() || f.dirs[SideServer].continuationExpected
}

// Aborted reports whether a direction has been aborted.
func (f *Flow) Aborted(side Side) bool { return f.abortFlow[side] }

// Infractions returns the accumulated infractions for a direction.
func (f *Flow) Infractions(side Side) InfractionSet { return f.dirs[side].infractions }

// DrainEvents returns and clears the queued events for a direction.
func (f *Flow) DrainEvents(side Side) []Infraction { return f.dirs[side].events.Drain() }

// Streams returns a snapshot of the live streams, most recent first.
func (f *Flow) Streams() []*Stream {
	out := make([]*Stream, len(f.streams))
	copy(out, f.streams)
	return out
}

// ConcurrentStreams returns the number of live non-zero streams.
func (f *Flow) ConcurrentStreams() uint32 { return f.concurrentStreams }

// StreamMemoryTracked returns the stream slots currently charged to
// accounting, always a multiple of the tracking increment.
func (f *Flow) StreamMemoryTracked() uint32 { return f.memTracked }

// BytesCharged returns the flow's current accounting ledger in bytes.
func (f *Flow) BytesCharged() int { return f.bytesCharged }

// PushPromises returns the number of well-formed promises seen on the flow.
func (f *Flow) PushPromises() int { return f.pushPromises }

// PeerSettingsFor returns the recorded SETTINGS advertised from a side.
func (f *Flow) PeerSettingsFor(side Side) PeerSettings { return f.peerSettings[side] }

// GoAway returns the recorded GOAWAY information.
func (f *Flow) GoAway() GoAwayInfo { return f.goAway }
