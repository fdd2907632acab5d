package h2

import (
	"bytes"
	"testing"
)

func collectFrames(t *testing.T, s *frameSplitter, data []byte, chunk int) []Frame {
	t.Helper()
	var frames []Frame
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		if err := s.feed(data[off:end], func(f *Frame) {
			frames = append(frames, *f)
		}); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	return frames
}

func TestSplitterCutsFrames(t *testing.T) {
	wire := append([]byte(nil), ConnectionPreface...)
	wire = append(wire, buildFrame(FrameSettings, 0, 0, nil)...)
	wire = append(wire, buildFrame(FramePing, 0, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8})...)
	wire = append(wire, buildFrame(FrameData, FlagEndStream, 1, []byte("hello"))...)

	s := newFrameSplitter(SideClient, 16384)
	frames := collectFrames(t, &s, wire, len(wire))

	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0].Type != FrameSettings || frames[0].Length != 0 {
		t.Errorf("first frame should be empty SETTINGS, got %s", frames[0].Summary())
	}
	if frames[1].Type != FramePing {
		t.Errorf("second frame should be PING, got %s", frames[1].Summary())
	}
	if string(frames[2].Payload) != "hello" {
		t.Errorf("DATA payload = %q", frames[2].Payload)
	}
}

// The same byte stream must yield the same frames regardless of how it is
// segmented.
func TestSplitterSegmentationInvariance(t *testing.T) {
	wire := append([]byte(nil), ConnectionPreface...)
	wire = append(wire, buildFrame(FrameSettings, 0, 0, nil)...)
	wire = append(wire, buildFrame(FrameHeaders, FlagEndHeaders, 1, []byte{0x82, 0x84})...)
	wire = append(wire, buildFrame(FrameData, FlagEndStream, 1, bytes.Repeat([]byte("x"), 300))...)

	whole := collectFrames(t, newSplitterForTest(), wire, len(wire))

	for _, chunk := range []int{1, 2, 3, 7, 10, 100} {
		pieces := collectFrames(t, newSplitterForTest(), wire, chunk)
		if len(pieces) != len(whole) {
			t.Fatalf("chunk %d: got %d frames, want %d", chunk, len(pieces), len(whole))
		}
		for i := range whole {
			if pieces[i].Type != whole[i].Type || !bytes.Equal(pieces[i].Payload, whole[i].Payload) {
				t.Errorf("chunk %d: frame %d differs", chunk, i)
			}
		}
	}
}

func newSplitterForTest() *frameSplitter {
	s := newFrameSplitter(SideClient, 16384)
	return &s
}

func TestSplitterBadPreface(t *testing.T) {
	s := newFrameSplitter(SideClient, 16384)
	err := s.feed([]byte("GET / HTTP/1.1\r\n"), func(*Frame) {
		t.Fatal("no frame expected")
	})
	if err == nil {
		t.Fatal("expected bad preface error")
	}
}

func TestSplitterServerSideHasNoPreface(t *testing.T) {
	s := newFrameSplitter(SideServer, 16384)
	var frames []Frame
	if err := s.feed(buildFrame(FrameSettings, 0, 0, nil), func(f *Frame) {
		frames = append(frames, *f)
	}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
}

// A frame with length zero is accepted and produces an empty payload.
func TestSplitterZeroLengthFrame(t *testing.T) {
	s := newFrameSplitter(SideServer, 16384)
	var frames []Frame
	s.feed(buildFrame(FrameSettings, FlagAck, 0, nil), func(f *Frame) {
		frames = append(frames, *f)
	})
	if len(frames) != 1 || frames[0].Length != 0 || len(frames[0].Payload) != 0 {
		t.Fatalf("zero-length frame not emitted cleanly: %+v", frames)
	}
}

// An oversized frame is consumed to preserve alignment but tagged drop, and
// the next frame still parses.
func TestSplitterOversizeFrame(t *testing.T) {
	s := newFrameSplitter(SideServer, 16)
	wire := buildFrame(FrameData, 0, 1, bytes.Repeat([]byte("a"), 100))
	wire = append(wire, buildFrame(FramePing, 0, 0, []byte{0, 0, 0, 0, 0, 0, 0, 0})...)

	frames := collectFrames(t, &s, wire, 7)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !frames[0].Drop {
		t.Error("oversized frame should be tagged drop")
	}
	if len(frames[0].Payload) != 0 {
		t.Error("dropped frame must not buffer its payload")
	}
	if frames[1].Type != FramePing || frames[1].Drop {
		t.Errorf("alignment lost after oversized frame: %s", frames[1].Summary())
	}
}

// Consumed plus buffered octets always equals the octets fed.
func TestSplitterBufferAccounting(t *testing.T) {
	frame := buildFrame(FrameData, 0, 1, []byte("abcdefgh"))
	s := newFrameSplitter(SideServer, 16384)

	emitted := 0
	for i, b := range frame {
		s.feed([]byte{b}, func(f *Frame) {
			emitted = FrameHeaderSize + len(f.Payload)
		})
		fed := i + 1
		if got := emitted + s.buffered(); got != fed {
			t.Fatalf("after %d octets: emitted %d + buffered %d != fed", fed, emitted, s.buffered())
		}
	}
	if emitted == 0 {
		t.Fatal("frame never completed")
	}
}

func TestSplitterMidFrame(t *testing.T) {
	s := newFrameSplitter(SideServer, 16384)
	if s.midFrame() {
		t.Error("fresh splitter should not be mid-frame")
	}
	s.feed(buildFrame(FrameData, 0, 1, []byte("abc"))[:5], func(*Frame) {})
	if !s.midFrame() {
		t.Error("splitter with partial header should be mid-frame")
	}
}
