package h2

import "unsafe"

// Inspector is the engine's entry point for the enclosing framework. One
// inspector serves many flows; per-flow state lives entirely in Flow, so the
// inspector itself is safe for concurrent use across flows.
type Inspector struct {
	cfg        Config
	downstream Downstream
}

// New creates an inspector. Zero config limits fall back to defaults.
func New(cfg Config, downstream Downstream) *Inspector {
	def := DefaultConfig()
	if cfg.MaxConcurrentStreams == 0 {
		cfg.MaxConcurrentStreams = def.MaxConcurrentStreams
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	if cfg.MaxHeaderListSize == 0 {
		cfg.MaxHeaderListSize = def.MaxHeaderListSize
	}
	return &Inspector{cfg: cfg, downstream: downstream}
}

// Config returns the inspector's effective settings.
func (in *Inspector) Config() Config { return in.cfg }

// NewFlow constructs the per-connection state for a new flow, driving the
// inspector's default downstream.
func (in *Inspector) NewFlow() *Flow {
	return in.NewFlowTo(in.downstream)
}

// NewFlowTo constructs a flow driving a dedicated downstream, for callers
// that keep one recording sink per connection.
func (in *Inspector) NewFlowTo(downstream Downstream) *Flow {
	f := newFlow(&in.cfg, downstream)
	IncrementPeg(PegConcurrentSessions)
	ratchetPeg(PegMaxConcurrentSessions, PegCount(PegConcurrentSessions))
	return f
}

// Destroy tears a flow down and releases everything it charged.
func (in *Inspector) Destroy(f *Flow) {
	f.destroy()
	DecrementPeg(PegConcurrentSessions)
}

// QuerySize reports the static baseline footprint of one flow: the flow
// itself, one stream-memory block plus the slot for stream 0, and the two
// HPACK decoder states.
func (in *Inspector) QuerySize() int {
	return int(unsafe.Sizeof(Flow{})) + streamIncrementMemorySize + streamMemorySize +
		2*hpackDefaultTableSize
}

// OnSegment feeds one direction's next chunk of reassembled bytes. The chunk
// boundary is arbitrary: frames are cut wherever they fall.
func (in *Inspector) OnSegment(f *Flow, side Side, data []byte) {
	if f.abortFlow[side] {
		return
	}
	err := f.dirs[side].splitter.feed(data, func(frame *Frame) {
		in.processFrame(f, side, frame)
	})
	if err != nil {
		f.infraction(side, InfBadPreface)
		f.abortFlow[side] = true
	}
}

// OnEOF marks the end of one direction. Messages whose end relies on the
// peer closing are completed here.
func (in *Inspector) OnEOF(f *Flow, side Side) {
	if f.eof[side] {
		return
	}
	f.eof[side] = true
	kind := kindForSide(side)
	for _, st := range f.streams {
		if st.messageBegun[kind] && !st.messageEnded[kind] {
			f.endMessage(st, kind)
		}
	}
}

// processFrame is the frame classifier: it parses nothing beyond the common
// header (the splitter already did that), enforces the CONTINUATION
// discipline and dispatches on the frame type.
func (in *Inspector) processFrame(f *Flow, side Side, frame *Frame) {
	if f.abortFlow[side] {
		return
	}
	dir := &f.dirs[side]

	if frame.Drop {
		f.infraction(side, InfOversizeFrame)
		return
	}

	// A header block in flight claims the whole direction: the next frame
	// must be its CONTINUATION, on the same stream.
	if dir.continuationExpected {
		if frame.Type != FrameContinuation || frame.StreamID != dir.currentStream {
			f.infraction(side, InfContinuationExpected)
			f.abortFlow[side] = true
			return
		}
	} else if frame.Type == FrameContinuation {
		f.infraction(side, InfUnexpectedContinuation)
		f.abortFlow[side] = true
		return
	}

	dir.frameType = frame.Type
	dir.frameLength = frame.Length
	if frame.Type != FrameContinuation {
		dir.currentStream = frame.StreamID
	}

	f.setProcessingStreamID(side, frame)
	st := f.getProcessingStream(side)

	switch frame.Type {
	case FrameHeaders:
		in.processHeaders(f, side, frame, st)
	case FrameContinuation:
		in.processContinuation(f, side, frame, st)
	case FramePushPromise:
		in.processPushPromise(f, side, frame, st)
	case FrameData:
		in.processData(f, side, frame, st)
	case FrameRSTStream:
		in.processRSTStream(f, side, frame, st)
	case FrameSettings:
		in.processSettings(f, side, frame)
	case FrameGoAway:
		if p, err := frame.ParseGoAwayPayload(); err == nil {
			f.goAway = GoAwayInfo{Seen: true, LastStreamID: p.LastStreamID, ErrorCode: p.ErrorCode}
		}
	case FramePriority, FramePing, FrameWindowUpdate:
		// Housekeeping; the transient stream entry, if one was created,
		// is removed in finishFrame.
	}

	f.finishFrame()
}

// processHeaders handles a HEADERS frame: state transition, header block
// assembly and HPACK feeding, and delivery on END_HEADERS.
func (in *Inspector) processHeaders(f *Flow, side Side, frame *Frame, st *Stream) {
	dir := &f.dirs[side]

	p, err := frame.ParseHeadersPayload()
	if err != nil {
		f.infraction(side, InfPaddingOverflow)
		if st != nil {
			st.aborted[side] = true
		}
		return
	}

	endHeaders := frame.IsEndHeaders()
	endStream := frame.Flags&FlagEndStream != 0
	if !endHeaders {
		dir.continuationExpected = true
		dir.continuationTarget = f.processingStreamID
		dir.continuationKind = kindForSide(side)
	}

	// The HPACK dynamic table is connection state: fragments are fed even
	// when the stream itself was refused, or the rest of the direction
	// becomes undecodable.
	if err := dir.hpack.Feed(p.Fragment, endHeaders); err != nil {
		f.infraction(side, InfHpackError)
		f.abortFlow[side] = true
		return
	}

	if st == nil {
		if endHeaders {
			dir.hpack.TakeHeaderList()
		}
		return
	}

	if !st.onHeaders(side) {
		f.infraction(side, InfIllegalStateTransition)
	}

	if !st.appendHeaderFragment(side, p.Fragment, f.cfg.MaxHeaderListSize) {
		f.infraction(side, InfHeaderListTooLarge)
		if endHeaders {
			dir.hpack.TakeHeaderList()
		}
		if endStream {
			st.onEndStream(side)
		}
		return
	}

	if endStream {
		st.pendingEndStream[side] = true
	}
	if endHeaders {
		fields := dir.hpack.TakeHeaderList()
		st.finishHeaderBlock(side)
		end := st.pendingEndStream[side]
		st.pendingEndStream[side] = false
		f.deliverHeaders(st, side, kindForSide(side), fields, end)
	}
}

// processContinuation extends the header block the previous HEADERS or
// PUSH_PROMISE frame started.
func (in *Inspector) processContinuation(f *Flow, side Side, frame *Frame, st *Stream) {
	dir := &f.dirs[side]
	endHeaders := frame.IsEndHeaders()
	if endHeaders {
		dir.continuationExpected = false
	}

	if err := dir.hpack.Feed(frame.Payload, endHeaders); err != nil {
		f.infraction(side, InfHpackError)
		f.abortFlow[side] = true
		return
	}

	if st == nil {
		if endHeaders {
			dir.hpack.TakeHeaderList()
		}
		return
	}

	if !st.appendHeaderFragment(side, frame.Payload, f.cfg.MaxHeaderListSize) {
		f.infraction(side, InfHeaderListTooLarge)
		if endHeaders {
			dir.hpack.TakeHeaderList()
		}
		return
	}

	if endHeaders {
		fields := dir.hpack.TakeHeaderList()
		st.finishHeaderBlock(side)
		end := st.pendingEndStream[side]
		st.pendingEndStream[side] = false
		f.deliverHeaders(st, side, dir.continuationKind, fields, end)
		if dir.continuationKind == KindRequest && side == SideServer {
			f.endMessage(st, KindRequest)
		}
	}
}

// processPushPromise handles a PUSH_PROMISE frame. A well-formed promise has
// already redirected processing to the promised stream, which is reserved
// here; its header block is the promised request. A malformed promise still
// drives header assembly on the parent stream to keep HPACK state intact,
// but nothing is delivered downstream.
func (in *Inspector) processPushPromise(f *Flow, side Side, frame *Frame, st *Stream) {
	dir := &f.dirs[side]

	p, err := frame.ParsePushPromisePayload()
	if err != nil {
		f.infraction(side, InfPaddingOverflow)
		return
	}

	promised := st != nil && st.id == f.processingStreamID && st.id%2 == 0 && st.id > 0
	if promised && st.state == StreamIdle {
		st.state = StreamReservedRemote
		f.pushPromises++
	}

	endHeaders := frame.IsEndHeaders()
	if !endHeaders {
		dir.continuationExpected = true
		dir.continuationTarget = f.processingStreamID
		dir.continuationKind = KindRequest
	}

	if err := dir.hpack.Feed(p.Fragment, endHeaders); err != nil {
		f.infraction(side, InfHpackError)
		f.abortFlow[side] = true
		return
	}

	if st == nil || !promised {
		if endHeaders {
			dir.hpack.TakeHeaderList()
		}
		return
	}

	if !st.appendHeaderFragment(side, p.Fragment, f.cfg.MaxHeaderListSize) {
		f.infraction(side, InfHeaderListTooLarge)
		if endHeaders {
			dir.hpack.TakeHeaderList()
		}
		return
	}

	if endHeaders {
		fields := dir.hpack.TakeHeaderList()
		st.finishHeaderBlock(side)
		f.deliverHeaders(st, side, KindRequest, fields, false)
		// A promised request carries no body; it is complete with its
		// header block.
		f.endMessage(st, KindRequest)
	}
}

// processData handles a DATA frame: padding removal and body delivery.
func (in *Inspector) processData(f *Flow, side Side, frame *Frame, st *Stream) {
	p, err := frame.ParseDataPayload()
	if err != nil {
		f.infraction(side, InfPaddingOverflow)
		if st != nil {
			st.aborted[side] = true
		}
		return
	}
	if st == nil {
		return
	}
	if st.state == StreamIdle {
		f.infraction(side, InfIllegalStateTransition)
	}

	f.deliverBody(st, side, p.Data)

	if frame.Flags&FlagEndStream != 0 {
		st.onEndStream(side)
		f.endMessage(st, kindForSide(side))
	}
}

// processRSTStream forces the stream closed. Messages already begun
// downstream are flushed so the HTTP/1 inspector sees their end.
func (in *Inspector) processRSTStream(f *Flow, side Side, frame *Frame, st *Stream) {
	if _, err := frame.RSTStreamErrorCode(); err != nil {
		f.infraction(side, InfInvalidRSTStream)
	}
	if st == nil {
		return
	}
	st.onReset()
	for kind := KindRequest; kind <= KindResponse; kind++ {
		f.endMessage(st, kind)
	}
	// Drop any header block of this stream still pending in a decoder. The
	// dynamic tables are connection state and survive.
	for s := SideClient; s <= SideServer; s++ {
		if f.dirs[s].continuationExpected && f.dirs[s].continuationTarget == st.id {
			f.dirs[s].hpack.Reset()
			f.dirs[s].continuationExpected = false
		}
	}
}

// processSettings records the peer parameters a non-ACK SETTINGS frame
// advertises. The inspector observes them; it does not negotiate.
func (in *Inspector) processSettings(f *Flow, side Side, frame *Frame) {
	settings, err := frame.ParseSettingsPayload()
	if err != nil {
		f.infraction(side, InfBadSettingsFrame)
		return
	}
	if len(settings) > 0 {
		f.peerSettings[side].apply(settings)
	}
}
