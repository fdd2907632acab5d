package h2

import "errors"

// errBadPreface reports a client byte stream that does not open with the
// HTTP/2 connection preface. Alignment is unrecoverable.
var errBadPreface = errors.New("h2: bad connection preface")

type splitterState int

const (
	awaitPreface splitterState = iota
	awaitHeader
	awaitPayload
)

// frameSplitter cuts one direction's byte stream into frames. Partial
// headers and payloads are buffered across segment boundaries so the caller
// may deliver bytes in arbitrary slices. The client-side splitter consumes
// the 24-octet connection preface exactly once before the first frame.
type frameSplitter struct {
	state        splitterState
	maxFrameSize uint32

	prefaceOctets int // octets of the preface matched so far

	header           [FrameHeaderSize]byte
	headerOctetsSeen int

	frame   Frame
	payload []byte
	skip    int // remaining payload octets of a dropped frame
}

func newFrameSplitter(side Side, maxFrameSize uint32) frameSplitter {
	s := frameSplitter{maxFrameSize: maxFrameSize, state: awaitHeader}
	if side == SideClient {
		s.state = awaitPreface
	}
	return s
}

// feed consumes data, invoking emit for every completed frame. Frames whose
// advertised length exceeds maxFrameSize are emitted with Drop set and an
// empty payload; their octets are consumed to preserve alignment. The only
// error is errBadPreface, after which the splitter must not be fed again.
func (s *frameSplitter) feed(data []byte, emit func(*Frame)) error {
	for len(data) > 0 {
		switch s.state {
		case awaitPreface:
			n := len(ConnectionPreface) - s.prefaceOctets
			if n > len(data) {
				n = len(data)
			}
			for i := 0; i < n; i++ {
				if data[i] != ConnectionPreface[s.prefaceOctets+i] {
					return errBadPreface
				}
			}
			s.prefaceOctets += n
			data = data[n:]
			if s.prefaceOctets == len(ConnectionPreface) {
				s.state = awaitHeader
			}

		case awaitHeader:
			n := copy(s.header[s.headerOctetsSeen:], data)
			s.headerOctetsSeen += n
			data = data[n:]
			if s.headerOctetsSeen < FrameHeaderSize {
				return nil
			}
			s.headerOctetsSeen = 0
			s.frame = parseFrameHeader(s.header[:])
			if s.frame.Length > s.maxFrameSize {
				// Consume the advertised payload to stay aligned, but
				// never buffer it.
				s.frame.Drop = true
				s.skip = int(s.frame.Length)
			}
			if s.frame.Length == 0 {
				f := s.frame
				emit(&f)
				continue
			}
			s.state = awaitPayload

		case awaitPayload:
			if s.frame.Drop {
				n := s.skip
				if n > len(data) {
					n = len(data)
				}
				s.skip -= n
				data = data[n:]
				if s.skip > 0 {
					return nil
				}
			} else {
				need := int(s.frame.Length) - len(s.payload)
				n := need
				if n > len(data) {
					n = len(data)
				}
				s.payload = append(s.payload, data[:n]...)
				data = data[n:]
				if len(s.payload) < int(s.frame.Length) {
					return nil
				}
				s.frame.Payload = s.payload
				s.payload = nil
			}
			f := s.frame
			s.frame = Frame{}
			s.state = awaitHeader
			emit(&f)
		}
	}
	return nil
}

// buffered returns the number of input octets held for an incomplete frame.
// Octets of a dropped frame's payload are consumed, not buffered.
func (s *frameSplitter) buffered() int {
	n := s.headerOctetsSeen + len(s.payload)
	if s.state == awaitPayload && !s.frame.Drop {
		n += FrameHeaderSize
	}
	return n
}

// midFrame reports whether the splitter sits inside a frame boundary.
func (s *frameSplitter) midFrame() bool {
	return s.state == awaitPayload || s.headerOctetsSeen > 0
}
