package classify

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"flakectl/internal/ghfetch"
)

func sampleRun() ghfetch.FailedRun {
	return ghfetch.FailedRun{
		ID:        101,
		URL:       "https://github.com/acme/widgets/actions/runs/101",
		Branch:    "main",
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Jobs: []ghfetch.FailedJob{
			{ID: 1, Name: "unit-tests"},
			{ID: 2, Name: "integration"},
		},
	}
}

func TestParseVerdict(t *testing.T) {
	text := "```json\n" + `{
		"jobs": [
			{"job_name": "unit-tests", "job_id": 1, "category": "test-flake/timeout", "is_flake": true,
			 "test_ids": ["tests/test_a.py::test_x"], "failed_test": "tests/test_a.py::test_x",
			 "error_message": "TimeoutError after 30s", "summary": "test timed out"},
			{"job_name": "integration", "job_id": 2, "category": "bug/nil-deref", "is_flake": false,
			 "error_message": "panic: nil pointer", "summary": "real crash"}
		]
	}` + "\n```"

	rec, err := ParseVerdict(text, sampleRun())
	if err != nil {
		t.Fatalf("ParseVerdict: %v", err)
	}
	want := &Record{
		RunID:     101,
		RunURL:    "https://github.com/acme/widgets/actions/runs/101",
		Branch:    "main",
		StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Jobs: []JobClassification{
			{JobName: "unit-tests", JobID: 1, Category: "test-flake/timeout", IsFlake: true,
				TestIDs: []string{"tests/test_a.py::test_x"}, FailedTest: "tests/test_a.py::test_x",
				ErrorMessage: "TimeoutError after 30s", Summary: "test timed out"},
			{JobName: "integration", JobID: 2, Category: "bug/nil-deref",
				ErrorMessage: "panic: nil pointer", Summary: "real crash"},
		},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestParseVerdict_MissingJob(t *testing.T) {
	text := `{"jobs": [{"job_name": "unit-tests", "job_id": 1, "category": "bug/crash", "is_flake": false}]}`
	if _, err := ParseVerdict(text, sampleRun()); err == nil {
		t.Fatal("expected error for verdict missing job 2")
	}
}

func TestParseVerdict_InvalidCategory(t *testing.T) {
	text := `{"jobs": [
		{"job_id": 1, "category": "mystery/thing"},
		{"job_id": 2, "category": "bug/crash"}
	]}`
	_, err := ParseVerdict(text, sampleRun())
	if err == nil || !strings.Contains(err.Error(), "invalid category") {
		t.Fatalf("expected invalid category error, got %v", err)
	}
}

func TestParseVerdict_NotJSON(t *testing.T) {
	if _, err := ParseVerdict("I could not decide.", sampleRun()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTail(t *testing.T) {
	text := "line1\nline2\nline3\n"
	if got := Tail(text, 1000); got != text {
		t.Errorf("short log should pass through unchanged, got %q", got)
	}
	got := Tail(text, 12)
	if !strings.HasPrefix(got, "...(log truncated)...") {
		t.Errorf("truncated log missing marker: %q", got)
	}
	if !strings.HasSuffix(got, "line3\n") {
		t.Errorf("truncated log lost the tail: %q", got)
	}
	if strings.Contains(got, "line1") {
		t.Errorf("truncated log kept the head: %q", got)
	}
}
