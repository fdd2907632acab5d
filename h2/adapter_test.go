package h2

import "testing"

func TestSynthesizeStartLine(t *testing.T) {
	tests := []struct {
		name     string
		kind     MessageKind
		fields   []HeaderField
		wantLine string
		wantInfs []Infraction
	}{
		{
			name:     "request",
			kind:     KindRequest,
			fields:   getFields("/index.html", "example.com"),
			wantLine: "GET /index.html HTTP/1.1",
		},
		{
			name: "response",
			kind: KindResponse,
			fields: []HeaderField{
				{Name: ":status", Value: "404"},
				{Name: "server", Value: "h2d"},
			},
			wantLine: "HTTP/1.1 404",
		},
		{
			name: "missing method",
			kind: KindRequest,
			fields: []HeaderField{
				{Name: ":path", Value: "/"},
				{Name: ":scheme", Value: "https"},
			},
			wantLine: "",
			wantInfs: []Infraction{InfPseudoHeaderMissing},
		},
		{
			name:     "missing status",
			kind:     KindResponse,
			fields:   []HeaderField{{Name: "server", Value: "h2d"}},
			wantLine: "",
			wantInfs: []Infraction{InfPseudoHeaderMissing},
		},
		{
			name: "duplicate pseudo",
			kind: KindRequest,
			fields: append(getFields("/", "x"),
				HeaderField{Name: ":method", Value: "POST"}),
			wantLine: "GET / HTTP/1.1",
			wantInfs: []Infraction{InfPseudoHeaderDuplicate},
		},
		{
			name: "pseudo after regular",
			kind: KindRequest,
			fields: []HeaderField{
				{Name: ":method", Value: "GET"},
				{Name: ":path", Value: "/"},
				{Name: ":scheme", Value: "https"},
				{Name: "accept", Value: "*/*"},
				{Name: ":authority", Value: "late.example"},
			},
			wantLine: "GET / HTTP/1.1",
			wantInfs: []Infraction{InfPseudoHeaderMisplaced},
		},
		{
			name: "connect without scheme",
			kind: KindRequest,
			fields: []HeaderField{
				{Name: ":method", Value: "CONNECT"},
				{Name: ":path", Value: "example.com:443"},
			},
			wantLine: "CONNECT example.com:443 HTTP/1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, _, infs := synthesizeStartLine(tt.kind, tt.fields)
			if line != tt.wantLine {
				t.Errorf("start line = %q, want %q", line, tt.wantLine)
			}
			if len(infs) != len(tt.wantInfs) {
				t.Fatalf("infractions = %v, want %v", infs, tt.wantInfs)
			}
			for i := range infs {
				if infs[i] != tt.wantInfs[i] {
					t.Errorf("infraction %d = %s, want %s", i, infs[i], tt.wantInfs[i])
				}
			}
		})
	}
}

func TestSynthesizeHostHeader(t *testing.T) {
	_, regular, _ := synthesizeStartLine(KindRequest, getFields("/", "h2.example"))
	if len(regular) == 0 || regular[0].Name != "host" || regular[0].Value != "h2.example" {
		t.Fatalf("host header not prepended: %v", regular)
	}

	// An explicit host header wins over :authority.
	fields := append(getFields("/", "ignored.example"),
		HeaderField{Name: "host", Value: "explicit.example"})
	_, regular, _ = synthesizeStartLine(KindRequest, fields)
	hosts := 0
	for _, f := range regular {
		if f.Name == "host" {
			hosts++
			if f.Value != "explicit.example" {
				t.Errorf("host = %q", f.Value)
			}
		}
	}
	if hosts != 1 {
		t.Errorf("host header count = %d, want 1", hosts)
	}
}

func TestInfractionSet(t *testing.T) {
	var set InfractionSet
	if !set.Empty() {
		t.Error("new set should be empty")
	}
	set.Add(InfOversizeFrame)
	set.Add(InfHpackError)
	set.Add(InfOversizeFrame)
	if !set.Has(InfOversizeFrame) || !set.Has(InfHpackError) || set.Has(InfBadPreface) {
		t.Errorf("set contents wrong: %v", set.List())
	}
	if got := len(set.List()); got != 2 {
		t.Errorf("list length = %d, want 2", got)
	}
}

func TestEventQueue(t *testing.T) {
	var q EventQueue
	q.Create(InfTooManyStreams)
	q.Create(InfTooManyStreams)
	events := q.Drain()
	if len(events) != 2 {
		t.Errorf("drained %d events, want 2 (events are occurrences, not flags)", len(events))
	}
	if q.Len() != 0 {
		t.Error("queue should be empty after drain")
	}
}
