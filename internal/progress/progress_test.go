package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestHumanCount(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		123456:   "123,456",
		1234567:  "1,234,567",
		-9876543: "-9,876,543",
	}
	for in, want := range tests {
		if got := humanCount(in); got != want {
			t.Errorf("humanCount(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestLogTracker(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogManagerTo(&buf, 0)
	tr := m.NewTracker(1, 3, "claims.dbf")

	tr.SetStage("validating")
	tr.SetProgress(500, 2000)
	tr.SetCounter("records with errors", 12)
	tr.Done()
	m.SetOverallStats(3, 1, 12)

	out := buf.String()
	for _, want := range []string{
		"[2/3] claims.dbf  validating",
		"500 / 2,000 records (25%)",
		"records with errors: 12",
		"Finished in",
		"3 files complete, 1 with errors, 12 field errors",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNoopManager(t *testing.T) {
	m := &NoopManager{}
	tr := m.NewTracker(0, 1, "x.dbf")
	tr.SetStage("validating")
	tr.SetProgress(1, 1)
	tr.Done()
	m.SetOverallStats(1, 1, 7)
	if m.FilesComplete != 1 || m.FilesWithErrors != 1 || m.TotalFieldErrors != 7 {
		t.Errorf("got %+v", m)
	}
}
