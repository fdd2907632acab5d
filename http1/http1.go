// Package http1 is the downstream HTTP/1 inspector the h2 engine drives
// with an HTTP/1-shaped view of each stream's messages. It records complete
// request/response transcripts for reporting and persistence.
package http1

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/klauspost/compress/gzip"

	"github.com/gsambyal/h2inspect/h2"
)

// Message is one recorded HTTP message.
type Message struct {
	Kind      h2.MessageKind
	StartLine string
	Headers   map[string]string
	Trailers  map[string]string
	Body      []byte

	// DecodedBody is the gunzipped body when the message was
	// gzip-encoded and decoding is enabled; nil otherwise.
	DecodedBody []byte
}

// Method returns the request method parsed from the start line.
func (m *Message) Method() string {
	parts := strings.SplitN(m.StartLine, " ", 3)
	if m.Kind == h2.KindRequest && len(parts) >= 1 {
		return parts[0]
	}
	return ""
}

// Path returns the request target parsed from the start line.
func (m *Message) Path() string {
	parts := strings.SplitN(m.StartLine, " ", 3)
	if m.Kind == h2.KindRequest && len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// StatusCode returns the response status parsed from the start line, or 0.
func (m *Message) StatusCode() int {
	if m.Kind != h2.KindResponse {
		return 0
	}
	parts := strings.SplitN(m.StartLine, " ", 3)
	if len(parts) < 2 {
		return 0
	}
	code, _ := strconv.Atoi(parts[1])
	return code
}

// Summary returns a one-line description of the message.
func (m *Message) Summary() string {
	host := m.Headers["host"]
	if m.Kind == h2.KindRequest && host != "" {
		return fmt.Sprintf("%s (host %s, %d body bytes)", m.StartLine, host, len(m.Body))
	}
	return fmt.Sprintf("%s (%d body bytes)", m.StartLine, len(m.Body))
}

// flowData is the per-stream handle the engine passes back on every call.
type flowData struct {
	current  *Message
	finished []*Message
	bodyBuf  bytes.Buffer
}

// Inspector records the messages of every stream it is driven with. It
// implements the engine's Downstream interface. One inspector is shared by
// all flows, which run on different goroutines, so the completed-message
// list is guarded.
type Inspector struct {
	gzipAllowed bool

	mu       sync.Mutex
	messages []*Message
}

// NewInspector creates a recording inspector. gzipAllowed enables body
// decompression for gzip content-encoding.
func NewInspector(gzipAllowed bool) *Inspector {
	return &Inspector{gzipAllowed: gzipAllowed}
}

// NewHandle creates the flow-data handle for one stream.
func (in *Inspector) NewHandle() h2.Handle {
	return &flowData{}
}

// BeginMessage opens a message with its synthesized start line.
func (in *Inspector) BeginMessage(h h2.Handle, kind h2.MessageKind, startLine string) error {
	fd, ok := h.(*flowData)
	if !ok {
		return fmt.Errorf("http1: foreign handle %T", h)
	}
	fd.current = &Message{
		Kind:      kind,
		StartLine: startLine,
		Headers:   make(map[string]string),
	}
	fd.bodyBuf.Reset()
	return nil
}

// PushHeaders records a header list; after the body has started it records
// trailers instead.
func (in *Inspector) PushHeaders(h h2.Handle, headers []h2.HeaderField) error {
	fd, ok := h.(*flowData)
	if !ok || fd.current == nil {
		return fmt.Errorf("http1: headers without message")
	}
	dst := fd.current.Headers
	if fd.bodyBuf.Len() > 0 {
		if fd.current.Trailers == nil {
			fd.current.Trailers = make(map[string]string)
		}
		dst = fd.current.Trailers
	}
	for _, field := range headers {
		name := strings.ToLower(field.Name)
		if prev, ok := dst[name]; ok {
			dst[name] = prev + ", " + field.Value
			continue
		}
		dst[name] = field.Value
	}
	return nil
}

// PushBody appends body bytes in arrival order.
func (in *Inspector) PushBody(h h2.Handle, body []byte) error {
	fd, ok := h.(*flowData)
	if !ok || fd.current == nil {
		return fmt.Errorf("http1: body without message")
	}
	fd.bodyBuf.Write(body)
	return nil
}

// EndMessage closes the current message, decoding the body if needed, and
// records it.
func (in *Inspector) EndMessage(h h2.Handle) error {
	fd, ok := h.(*flowData)
	if !ok || fd.current == nil {
		return fmt.Errorf("http1: end without message")
	}
	msg := fd.current
	fd.current = nil
	msg.Body = append([]byte(nil), fd.bodyBuf.Bytes()...)
	fd.bodyBuf.Reset()

	if in.gzipAllowed && strings.Contains(strings.ToLower(msg.Headers["content-encoding"]), "gzip") {
		if decoded, err := gunzip(msg.Body); err == nil {
			msg.DecodedBody = decoded
		}
	}

	fd.finished = append(fd.finished, msg)
	in.mu.Lock()
	in.messages = append(in.messages, msg)
	in.mu.Unlock()
	return nil
}

// SizeOf reports the handle's current footprint for the engine's memory
// accounting.
func (in *Inspector) SizeOf(h h2.Handle) int {
	fd, ok := h.(*flowData)
	if !ok {
		return 0
	}
	return int(unsafe.Sizeof(*fd)) + fd.bodyBuf.Cap()
}

// Messages returns all completed messages in completion order.
func (in *Inspector) Messages() []*Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*Message, len(in.messages))
	copy(out, in.messages)
	return out
}

// Reset clears the recorded messages.
func (in *Inspector) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.messages = nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
