package h2

import (
	"fmt"
	"strings"
)

// Handle is the downstream HTTP/1 inspector's opaque per-stream flow-data
// handle. The engine never looks inside it; it only passes it back on every
// call and asks for its size for accounting.
type Handle interface{}

// MessageKind distinguishes the two message directions of a stream.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindResponse
)

func (k MessageKind) String() string {
	if k == KindRequest {
		return "request"
	}
	return "response"
}

// kindForSide maps a frame's arrival direction to the message it carries.
// PUSH_PROMISE requests are the one exception and name their kind
// explicitly.
func kindForSide(side Side) MessageKind {
	if side == SideClient {
		return KindRequest
	}
	return KindResponse
}

// Downstream is the HTTP/1 inspector the adapter drives with an
// HTTP/1-shaped view of each stream's messages. Errors it returns are
// recorded against the owning stream and never abort the flow.
type Downstream interface {
	// NewHandle creates the flow-data handle for one stream.
	NewHandle() Handle

	// BeginMessage opens a message. The start line is synthesized from the
	// HTTP/2 pseudo-headers.
	BeginMessage(h Handle, kind MessageKind, startLine string) error

	// PushHeaders delivers a decoded header list; called again for
	// trailers.
	PushHeaders(h Handle, headers []HeaderField) error

	// PushBody streams body bytes in arrival order.
	PushBody(h Handle, body []byte) error

	// EndMessage closes the message.
	EndMessage(h Handle) error

	// SizeOf reports the handle's self-measured footprint for accounting.
	SizeOf(h Handle) int
}

// ensureHandle creates the stream's downstream handle on first use and
// charges its footprint.
func (f *Flow) ensureHandle(st *Stream) Handle {
	if st.hiHandle == nil {
		st.hiHandle = f.downstream.NewHandle()
		f.allocateHIMemory(st)
	}
	// Exactly one stream at a time holds the inspector's attention; swap it
	// over on every delivery.
	f.streamInHI = st.id
	return st.hiHandle
}

// deliverHeaders drives a completed header block downstream. The first block
// of a message becomes the start line plus headers; later blocks are
// trailers. endStream also closes the message and half-closes the stream.
func (f *Flow) deliverHeaders(st *Stream, side Side, kind MessageKind, fields []HeaderField, endStream bool) {
	if st.aborted[side] || st.downstreamErr[kind] != nil {
		if endStream {
			st.onEndStream(side)
		}
		return
	}

	h := f.ensureHandle(st)
	if !st.messageBegun[kind] {
		startLine, regular, infs := synthesizeStartLine(kind, fields)
		for _, inf := range infs {
			f.infraction(side, inf)
		}
		if startLine == "" {
			// No usable start line; this message cannot be represented.
			st.aborted[side] = true
			if endStream {
				st.onEndStream(side)
			}
			return
		}
		st.messageBegun[kind] = true
		if err := f.downstream.BeginMessage(h, kind, startLine); err != nil {
			f.recordDownstreamErr(st, kind, err)
		} else if err := f.downstream.PushHeaders(h, regular); err != nil {
			f.recordDownstreamErr(st, kind, err)
		}
	} else if !st.messageEnded[kind] {
		// Trailers.
		if err := f.downstream.PushHeaders(h, fields); err != nil {
			f.recordDownstreamErr(st, kind, err)
		}
	}

	if endStream {
		st.onEndStream(side)
		f.endMessage(st, kind)
	}
}

// deliverBody streams DATA payload bytes downstream.
func (f *Flow) deliverBody(st *Stream, side Side, body []byte) {
	kind := kindForSide(side)
	if st.aborted[side] || st.downstreamErr[kind] != nil || st.messageEnded[kind] {
		return
	}
	if !st.messageBegun[kind] {
		return
	}
	st.bodyOctets[kind] += len(body)
	if len(body) == 0 {
		return
	}
	h := f.ensureHandle(st)
	if err := f.downstream.PushBody(h, body); err != nil {
		f.recordDownstreamErr(st, kind, err)
	}
}

// endMessage closes a begun message downstream, once.
func (f *Flow) endMessage(st *Stream, kind MessageKind) {
	if !st.messageBegun[kind] || st.messageEnded[kind] {
		return
	}
	st.messageEnded[kind] = true
	if st.downstreamErr[kind] != nil {
		return
	}
	h := f.ensureHandle(st)
	if err := f.downstream.EndMessage(h); err != nil {
		f.recordDownstreamErr(st, kind, err)
	}
}

func (f *Flow) recordDownstreamErr(st *Stream, kind MessageKind, err error) {
	if st.downstreamErr[kind] == nil {
		st.downstreamErr[kind] = err
	}
}

// synthesizeStartLine builds the HTTP/1-shaped start line from the HTTP/2
// pseudo-headers and returns the remaining regular headers. Absence,
// duplication or misordering of pseudo-headers relative to regular headers
// is reported; a message with no representable start line returns "".
func synthesizeStartLine(kind MessageKind, fields []HeaderField) (string, []HeaderField, []Infraction) {
	var infs []Infraction
	pseudo := make(map[string]string, 4)
	regular := make([]HeaderField, 0, len(fields))
	regularSeen := false

	for _, field := range fields {
		if field.IsPseudo() {
			if regularSeen {
				infs = append(infs, InfPseudoHeaderMisplaced)
				continue
			}
			if _, dup := pseudo[field.Name]; dup {
				infs = append(infs, InfPseudoHeaderDuplicate)
				continue
			}
			pseudo[field.Name] = field.Value
			continue
		}
		regularSeen = true
		regular = append(regular, field)
	}

	var startLine string
	switch kind {
	case KindRequest:
		method, path := pseudo[":method"], pseudo[":path"]
		if method == "" || path == "" {
			infs = append(infs, InfPseudoHeaderMissing)
			return "", regular, infs
		}
		if pseudo[":scheme"] == "" && !strings.EqualFold(method, "CONNECT") {
			infs = append(infs, InfPseudoHeaderMissing)
		}
		startLine = fmt.Sprintf("%s %s HTTP/1.1", method, path)
		if authority := pseudo[":authority"]; authority != "" && !hasHeader(regular, "host") {
			regular = append([]HeaderField{{Name: "host", Value: authority}}, regular...)
		}
	case KindResponse:
		status := pseudo[":status"]
		if status == "" {
			infs = append(infs, InfPseudoHeaderMissing)
			return "", regular, infs
		}
		startLine = fmt.Sprintf("HTTP/1.1 %s", status)
	}
	return startLine, regular, infs
}

func hasHeader(fields []HeaderField, name string) bool {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}
