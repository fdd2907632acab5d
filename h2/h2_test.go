package h2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"golang.org/x/net/http2/hpack"
)

// recordedCall is one downstream invocation captured by the stub inspector.
type recordedCall struct {
	op        string
	handle    int
	kind      MessageKind
	startLine string
	headers   []HeaderField
	body      []byte
}

type stubHandle struct {
	id int
}

// stubDownstream records every call the adapter makes. failOn, when set,
// makes that operation return an error once.
type stubDownstream struct {
	calls      []recordedCall
	handles    int
	failOn     string
	handleSize int
}

func newStubDownstream() *stubDownstream {
	return &stubDownstream{handleSize: 128}
}

func (s *stubDownstream) NewHandle() Handle {
	s.handles++
	return &stubHandle{id: s.handles}
}

func (s *stubDownstream) fail(op string) error {
	if s.failOn == op {
		s.failOn = ""
		return fmt.Errorf("stub: %s failed", op)
	}
	return nil
}

func (s *stubDownstream) BeginMessage(h Handle, kind MessageKind, startLine string) error {
	s.calls = append(s.calls, recordedCall{
		op: "begin", handle: h.(*stubHandle).id, kind: kind, startLine: startLine,
	})
	return s.fail("begin")
}

func (s *stubDownstream) PushHeaders(h Handle, headers []HeaderField) error {
	s.calls = append(s.calls, recordedCall{
		op: "headers", handle: h.(*stubHandle).id, headers: append([]HeaderField(nil), headers...),
	})
	return s.fail("headers")
}

func (s *stubDownstream) PushBody(h Handle, body []byte) error {
	s.calls = append(s.calls, recordedCall{
		op: "body", handle: h.(*stubHandle).id, body: append([]byte(nil), body...),
	})
	return s.fail("body")
}

func (s *stubDownstream) EndMessage(h Handle) error {
	s.calls = append(s.calls, recordedCall{op: "end", handle: h.(*stubHandle).id})
	return s.fail("end")
}

func (s *stubDownstream) SizeOf(h Handle) int {
	return s.handleSize
}

func (s *stubDownstream) ops() []string {
	var out []string
	for _, call := range s.calls {
		out = append(out, call.op)
	}
	return out
}

func (s *stubDownstream) find(op string) *recordedCall {
	for i := range s.calls {
		if s.calls[i].op == op {
			return &s.calls[i]
		}
	}
	return nil
}

// buildFrame assembles one wire frame.
func buildFrame(frameType, flags uint8, streamID uint32, payload []byte) []byte {
	buf := make([]byte, FrameHeaderSize, FrameHeaderSize+len(payload))
	buf[0] = byte(len(payload) >> 16)
	buf[1] = byte(len(payload) >> 8)
	buf[2] = byte(len(payload))
	buf[3] = frameType
	buf[4] = flags
	binary.BigEndian.PutUint32(buf[5:9], streamID)
	return append(buf, payload...)
}

// headerEncoder encodes header blocks with a persistent dynamic table, one
// per direction like a real peer.
type headerEncoder struct {
	buf bytes.Buffer
	enc *hpack.Encoder
}

func newHeaderEncoder() *headerEncoder {
	e := &headerEncoder{}
	e.enc = hpack.NewEncoder(&e.buf)
	return e
}

func (e *headerEncoder) block(t *testing.T, fields ...HeaderField) []byte {
	t.Helper()
	e.buf.Reset()
	for _, field := range fields {
		if err := e.enc.WriteField(hpack.HeaderField{Name: field.Name, Value: field.Value}); err != nil {
			t.Fatalf("encode %s: %v", field.Name, err)
		}
	}
	return append([]byte(nil), e.buf.Bytes()...)
}

// getFields are the minimal pseudo-headers of a GET request.
func getFields(path, authority string) []HeaderField {
	return []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: authority},
		{Name: ":path", Value: path},
	}
}

// harness bundles an inspector, a flow and the two per-direction encoders.
type harness struct {
	in   *Inspector
	flow *Flow
	sink *stubDownstream
	enc  [2]*headerEncoder
}

func newHarness(cfg Config) *harness {
	sink := newStubDownstream()
	in := New(cfg, sink)
	return &harness{
		in:   in,
		flow: in.NewFlow(),
		sink: sink,
		enc:  [2]*headerEncoder{newHeaderEncoder(), newHeaderEncoder()},
	}
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	h.in.Destroy(h.flow)
}

// sendPreface feeds the client connection preface.
func (h *harness) sendPreface() {
	h.in.OnSegment(h.flow, SideClient, ConnectionPreface)
}

func (h *harness) send(side Side, frames ...[]byte) {
	for _, frame := range frames {
		h.in.OnSegment(h.flow, side, frame)
	}
}

// headersFrame builds a HEADERS frame with an encoded block for the side.
func (h *harness) headersFrame(t *testing.T, side Side, streamID uint32, flags uint8, fields []HeaderField) []byte {
	t.Helper()
	return buildFrame(FrameHeaders, flags, streamID, h.enc[side].block(t, fields...))
}
