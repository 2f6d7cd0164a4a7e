package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_TagsLinesWithComponentAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewTo("scheduler", &buf)

	l.Info("picked up task %d", 7)
	l.Warn("retrying after %s", "rate_limit")
	l.Error("task %d permanently failed: %v", 7, "boom")

	out := buf.String()
	for _, want := range []string{
		"[scheduler] INFO picked up task 7",
		"[scheduler] WARN retrying after rate_limit",
		"[scheduler] ERROR task 7 permanently failed: boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}
