package format_test

import (
	"strings"
	"testing"
	"time"

	"flakectl/internal/format"
)

func TestMarkdownTable(t *testing.T) {
	tb := format.NewMarkdown()
	tb.Header("Category", "Runs", "Jobs", "Last Seen")
	tb.Row("test-flake/timeout", 4, 7, "2026-03-02")
	tb.Row("bug/nil-deref", 1, 1, "2026-03-03")
	out := tb.String()

	if !strings.Contains(out, "| Category") {
		t.Errorf("expected markdown header row:\n%s", out)
	}
	if !strings.Contains(out, "---") {
		t.Errorf("expected markdown separator:\n%s", out)
	}
	if !strings.Contains(out, "test-flake/timeout") {
		t.Errorf("expected category cell:\n%s", out)
	}
}

func TestASCIITable(t *testing.T) {
	tb := format.NewASCII()
	tb.Header("Category", "Runs")
	tb.Row("infra-flake/runner-lost", 2)
	out := tb.String()

	if !strings.Contains(out, "───") {
		t.Errorf("expected box-drawing characters:\n%s", out)
	}
	if !strings.Contains(out, "infra-flake/runner-lost") {
		t.Errorf("expected data row:\n%s", out)
	}
}

func TestTableFooter(t *testing.T) {
	tb := format.NewMarkdown()
	tb.Header("Category", "Jobs")
	tb.Row("test-flake/timeout", 3)
	tb.Footer("total", 3)
	out := tb.String()
	if !strings.Contains(strings.ToLower(out), "total") {
		t.Errorf("expected footer row:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := format.Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	got := format.Truncate("a very long error excerpt", 10)
	if got != "a very ..." {
		t.Errorf("Truncate = %q", got)
	}
}

func TestFmtDate(t *testing.T) {
	ts := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	if got := format.FmtDate(ts); got != "2026-03-02" {
		t.Errorf("FmtDate = %q", got)
	}
	if got := format.FmtDate(time.Time{}); got != "-" {
		t.Errorf("FmtDate(zero) = %q", got)
	}
}

func TestVerdict(t *testing.T) {
	if format.Verdict(true) != "yes" || format.Verdict(false) != "no" {
		t.Error("Verdict rendering changed")
	}
}
