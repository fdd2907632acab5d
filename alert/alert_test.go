package alert

import (
	"bytes"
	"testing"

	"github.com/gsambyal/h2inspect/h2"
	"github.com/gsambyal/h2inspect/http1"
)

// badPrefaceFlow produces a flow with a BadPreface event on the client side.
func badPrefaceFlow(t *testing.T) (*h2.Inspector, *h2.Flow) {
	t.Helper()
	inspector := h2.New(h2.Config{}, http1.NewInspector(false))
	flow := inspector.NewFlow()
	inspector.OnSegment(flow, h2.SideClient, []byte("not a preface at all......"))
	return inspector, flow
}

func TestCollect(t *testing.T) {
	inspector, flow := badPrefaceFlow(t)
	defer inspector.Destroy(flow)

	analyzer := NewAnalyzer()
	findings := analyzer.Collect("10.0.0.1:50000-10.0.0.2:443", flow)

	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.Code != h2.InfBadPreface || f.Side != h2.SideClient {
		t.Errorf("finding = %+v", f)
	}
	if f.Severity != SeverityError {
		t.Errorf("severity = %s, want Error", f.Severity)
	}

	// Events are drained: a second collect finds nothing new.
	if again := analyzer.Collect("key", flow); len(again) != 0 {
		t.Errorf("second collect returned %d findings", len(again))
	}
	if !analyzer.HasIssues() {
		t.Error("analyzer should report issues")
	}
}

func TestFilterExpressions(t *testing.T) {
	finding := &Finding{
		FlowKey:  "a-b",
		Side:     h2.SideClient,
		Code:     h2.InfTooManyStreams,
		Severity: SeverityError,
	}

	tests := []struct {
		expr  string
		match bool
	}{
		{`event == "TooManyStreams"`, true},
		{`event == "BadPushPromise"`, false},
		{`side == "client" && is_error`, true},
		{`side == "server"`, false},
		{`is_warn`, true},
	}
	for _, tt := range tests {
		filterFunc, err := Compile(tt.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", tt.expr, err)
		}
		if got := filterFunc(finding); got != tt.match {
			t.Errorf("%q = %v, want %v", tt.expr, got, tt.match)
		}
	}

	if _, err := Compile("not a valid ((("); err == nil {
		t.Error("expected compile error")
	}
	if filterFunc, err := Compile(""); err != nil || filterFunc != nil {
		t.Error("empty filter should compile to nil")
	}
}

func TestSeverityParsing(t *testing.T) {
	if sev, err := ParseSeverity("warn"); err != nil || sev != SeverityWarning {
		t.Errorf("warn = %v, %v", sev, err)
	}
	if _, err := ParseSeverity("bogus"); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestPrintSummary(t *testing.T) {
	inspector, flow := badPrefaceFlow(t)
	defer inspector.Destroy(flow)

	analyzer := NewAnalyzer()
	analyzer.Collect("key", flow)

	var buf bytes.Buffer
	analyzer.PrintSummary(&buf)
	if !bytes.Contains(buf.Bytes(), []byte("BadPreface")) {
		t.Errorf("summary missing event name:\n%s", buf.String())
	}
}
