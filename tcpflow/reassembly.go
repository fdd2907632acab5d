package tcpflow

import "sort"

// Default limits for memory management
const (
	DefaultMaxPendingSegs  = 1000
	DefaultMaxPendingBytes = 4 * 1024 * 1024
)

// segment is a TCP segment held until its predecessors arrive.
type segment struct {
	seq  uint32
	data []byte
}

// Reassembler orders one direction's TCP segments and releases contiguous
// bytes as they become available. Released bytes are handed to the consumer
// and not retained, so memory stays bounded by the out-of-order window.
type Reassembler struct {
	segments []segment
	nextSeq  uint32
	started  bool

	maxPendingSegs  int
	maxPendingBytes int
	pendingBytes    int

	droppedBytes int
	droppedSegs  int
}

// NewReassembler creates a reassembler with default limits. The first
// segment fed establishes the initial sequence number unless SetNextSeq was
// called.
func NewReassembler() *Reassembler {
	return &Reassembler{
		maxPendingSegs:  DefaultMaxPendingSegs,
		maxPendingBytes: DefaultMaxPendingBytes,
	}
}

// SetNextSeq pins the expected next sequence number (ISN + 1 from the
// handshake).
func (r *Reassembler) SetNextSeq(seq uint32) {
	r.nextSeq = seq
	r.started = true
}

// Add feeds a segment and returns the bytes that became contiguous, in
// order. The returned slice is owned by the caller.
func (r *Reassembler) Add(seq uint32, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	if !r.started {
		r.nextSeq = seq
		r.started = true
	}

	// Complete retransmission of already released data.
	end := seq + uint32(len(data))
	if !seqAfter(end, r.nextSeq) {
		return nil
	}

	// Partial retransmission: trim the overlap, watching for wrap-around.
	if seqBefore(seq, r.nextSeq) {
		overlap := int32(r.nextSeq - seq)
		if overlap < 0 || overlap >= int32(len(data)) {
			return nil
		}
		data = data[overlap:]
		seq = r.nextSeq
	}

	if seqAfter(seq, r.nextSeq) {
		if len(r.segments) >= r.maxPendingSegs || r.pendingBytes+len(data) > r.maxPendingBytes {
			r.droppedBytes += len(data)
			r.droppedSegs++
			return nil
		}
	}

	seg := segment{seq: seq, data: append([]byte(nil), data...)}
	r.insert(seg)

	return r.release()
}

// insert places a segment in sequence order, keeping the longer of
// duplicates.
func (r *Reassembler) insert(seg segment) {
	idx := sort.Search(len(r.segments), func(i int) bool {
		return !seqBefore(r.segments[i].seq, seg.seq)
	})
	if idx < len(r.segments) && r.segments[idx].seq == seg.seq {
		if len(seg.data) > len(r.segments[idx].data) {
			r.pendingBytes += len(seg.data) - len(r.segments[idx].data)
			r.segments[idx] = seg
		}
		return
	}
	r.segments = append(r.segments, segment{})
	copy(r.segments[idx+1:], r.segments[idx:])
	r.segments[idx] = seg
	r.pendingBytes += len(seg.data)
}

// release pops every segment that is now contiguous.
func (r *Reassembler) release() []byte {
	var out []byte
	for len(r.segments) > 0 {
		seg := r.segments[0]
		if seqAfter(seg.seq, r.nextSeq) {
			break
		}
		start := 0
		if seqBefore(seg.seq, r.nextSeq) {
			start = int(r.nextSeq - seg.seq)
			if start >= len(seg.data) {
				r.segments = r.segments[1:]
				r.pendingBytes -= len(seg.data)
				continue
			}
		}
		out = append(out, seg.data[start:]...)
		r.nextSeq = seg.seq + uint32(len(seg.data))
		r.pendingBytes -= len(seg.data)
		r.segments = r.segments[1:]
	}
	return out
}

// Pending returns the number of buffered out-of-order segments.
func (r *Reassembler) Pending() int {
	return len(r.segments)
}

// Dropped returns the bytes and segments dropped due to limits.
func (r *Reassembler) Dropped() (bytes, segs int) {
	return r.droppedBytes, r.droppedSegs
}

// seqBefore returns true if a < b (handling wrap-around)
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// seqAfter returns true if a > b (handling wrap-around)
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}
