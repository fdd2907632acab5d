package h2

// StreamState is the lifecycle state of an HTTP/2 stream (RFC 7540 Section
// 5.1), tracked passively.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamReservedLocal
	StreamReservedRemote
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

func (s StreamState) String() string {
	names := []string{
		"idle",
		"reserved (local)",
		"reserved (remote)",
		"open",
		"half-closed (local)",
		"half-closed (remote)",
		"closed",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Stream is one HTTP/2 stream of a flow. The flow owns its streams; a stream
// never stores a reference back to the flow, the flow hands itself in on
// every operation.
type Stream struct {
	id    uint32
	state StreamState

	// Header block assembly, one buffer per direction. Fragments accumulate
	// across HEADERS/PUSH_PROMISE and CONTINUATION until END_HEADERS.
	headerBuf    [2][]byte
	headerOctets [2]int

	// END_STREAM seen on a frame without END_HEADERS is deferred until the
	// header block completes.
	pendingEndStream [2]bool

	// endStreamSeen records the half-close of each direction.
	endStreamSeen [2]bool

	// aborted marks a direction of the stream as dead for downstream
	// delivery; frame alignment is unaffected.
	aborted [2]bool

	// Downstream delivery state, indexed by MessageKind rather than side: a
	// promised stream's request and response both arrive on the server
	// side.
	messageBegun  [2]bool
	messageEnded  [2]bool
	bodyOctets    [2]int
	downstreamErr [2]error

	// hiHandle is the downstream HTTP/1 inspector's flow-data handle while
	// this stream owns the inspector's context; hiCharged is the footprint
	// charged for it, released verbatim so the accounting pairs up.
	hiHandle  Handle
	hiCharged int
}

func newStream(id uint32) *Stream {
	return &Stream{id: id, state: StreamIdle}
}

// ID returns the stream id.
func (s *Stream) ID() uint32 { return s.id }

// State returns the current lifecycle state.
func (s *Stream) State() StreamState { return s.state }

// BodyOctets returns the delivered body size for a message kind.
func (s *Stream) BodyOctets(kind MessageKind) int { return s.bodyOctets[kind] }

// DownstreamErr returns the error, if any, the downstream HTTP/1 inspector
// returned for a message kind.
func (s *Stream) DownstreamErr(kind MessageKind) error { return s.downstreamErr[kind] }

// onHeaders advances the state machine for a HEADERS frame arriving from
// side. Illegal transitions are reported, not acted on: passive inspection
// keeps following the traffic as long as frame boundaries hold.
func (s *Stream) onHeaders(side Side) (legal bool) {
	switch s.state {
	case StreamIdle:
		s.state = StreamOpen
		return true
	case StreamReservedRemote:
		// Promised stream: the server's HEADERS open its response; the
		// client never sends on it.
		if side == SideServer {
			s.state = StreamHalfClosedLocal
			return true
		}
	case StreamOpen, StreamHalfClosedLocal, StreamHalfClosedRemote:
		// Trailers, or an informational header block.
		return true
	}
	return false
}

// onEndStream records the half-close of side and advances the state.
func (s *Stream) onEndStream(side Side) {
	s.endStreamSeen[side] = true
	switch s.state {
	case StreamOpen:
		if side == SideClient {
			s.state = StreamHalfClosedLocal
		} else {
			s.state = StreamHalfClosedRemote
		}
	case StreamHalfClosedLocal:
		if side == SideServer {
			s.state = StreamClosed
		}
	case StreamHalfClosedRemote:
		if side == SideClient {
			s.state = StreamClosed
		}
	}
	if s.endStreamSeen[SideClient] && s.endStreamSeen[SideServer] {
		s.state = StreamClosed
	}
}

// onReset forces the stream closed in both directions.
func (s *Stream) onReset() {
	s.state = StreamClosed
}

// appendHeaderFragment adds a header block fragment for side, bounded by
// maxHeaderListSize. Overflow aborts the stream direction and discards the
// assembly.
func (s *Stream) appendHeaderFragment(side Side, fragment []byte, maxHeaderListSize uint32) bool {
	s.headerOctets[side] += len(fragment)
	if uint32(s.headerOctets[side]) > maxHeaderListSize {
		s.headerBuf[side] = nil
		s.aborted[side] = true
		return false
	}
	s.headerBuf[side] = append(s.headerBuf[side], fragment...)
	return true
}

// finishHeaderBlock clears the assembly state after END_HEADERS.
func (s *Stream) finishHeaderBlock(side Side) {
	s.headerBuf[side] = nil
	s.headerOctets[side] = 0
}

// deletable reports whether the stream can be destroyed: closed in both
// directions, fully delivered downstream, and not holding the HTTP/1
// inspector's context mid-message.
func (s *Stream) deletable() bool {
	if s.state != StreamClosed {
		return false
	}
	for kind := KindRequest; kind <= KindResponse; kind++ {
		if s.messageBegun[kind] && !s.messageEnded[kind] {
			return false
		}
	}
	return true
}
