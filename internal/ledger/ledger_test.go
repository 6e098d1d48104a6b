package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"flakectl/internal/classify"
	"flakectl/internal/ghfetch"
)

func testRuns() []ghfetch.FailedRun {
	return []ghfetch.FailedRun{
		{
			ID:        103,
			URL:       "https://github.com/acme/widgets/actions/runs/103",
			Branch:    "main",
			Event:     "push",
			CommitSHA: "deadbeef",
			StartedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			Attempt:   1,
			Jobs: []ghfetch.FailedJob{
				{ID: 31, Name: "unit-tests", FailureStep: "go test"},
				{ID: 32, Name: "nightly-fuzz", FailureStep: "fuzz"},
			},
		},
		{
			ID:        102,
			URL:       "https://github.com/acme/widgets/actions/runs/102",
			Branch:    "main",
			Event:     "push",
			CommitSHA: "cafef00d",
			StartedAt: time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC),
			Attempt:   1,
			Jobs: []ghfetch.FailedJob{
				{ID: 21, Name: "nightly-fuzz", FailureStep: "fuzz"},
			},
		},
		{
			ID:        101,
			URL:       "https://github.com/acme/widgets/actions/runs/101",
			Branch:    "release-1.2",
			Event:     "schedule",
			CommitSHA: "0ddba11",
			StartedAt: time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC),
			Attempt:   2,
			Jobs: []ghfetch.FailedJob{
				{ID: 11, Name: "integration", FailureStep: "run suite"},
			},
		},
	}
}

func TestInit_SkipJobsFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.md")
	led, err := Init(path, testRuns(), []string{"nightly-fuzz"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Run 102 had only the skipped job, so it is dropped entirely.
	tasks := led.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("want 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Run.ID != 103 || tasks[1].Run.ID != 101 {
		t.Errorf("task order: %d, %d", tasks[0].Run.ID, tasks[1].Run.ID)
	}
	if len(tasks[0].Run.Jobs) != 1 || tasks[0].Run.Jobs[0].Name != "unit-tests" {
		t.Errorf("run 103 jobs after filter: %+v", tasks[0].Run.Jobs)
	}
}

func TestLedger_PersistReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.md")
	led, err := Init(path, testRuns(), nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	rec := &classify.Record{
		RunID:     103,
		RunURL:    "https://github.com/acme/widgets/actions/runs/103",
		Branch:    "main",
		StartedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Jobs: []classify.JobClassification{
			{
				JobName:      "unit-tests",
				JobID:        31,
				Category:     "test-flake/timeout/12345",
				IsFlake:      true,
				TestIDs:      []string{"12345", "12346"},
				FailedTest:   "TestCheckout",
				ErrorMessage: "context deadline exceeded",
				Summary:      "checkout test timed out waiting for the mock gateway",
			},
			{
				JobName:  "nightly-fuzz",
				JobID:    32,
				Category: "bug/nil-deref",
				IsFlake:  false,
				Summary:  "nil pointer in cart totals",
			},
		},
	}
	if err := led.MarkInProgress(103); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := led.MarkDone(103, led.SlotRef(103), rec); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := led.MarkInProgress(101); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := led.MarkFailed(101, "turn limit exceeded"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(led.Snapshot(), reloaded.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch after reload (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(led.Records(), reloaded.Records()); diff != "" {
		t.Errorf("records mismatch after reload (-want +got):\n%s", diff)
	}

	done, total := reloaded.Counts()
	if done != 1 || total != 3 {
		t.Errorf("Counts: got (%d, %d), want (1, 3)", done, total)
	}
	if got := reloaded.Pending(); len(got) != 1 || got[0].Run.ID != 102 {
		t.Errorf("Pending after reload: %+v", got)
	}
}

func TestLedger_CategoriesSoFar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.md")
	led, err := Init(path, testRuns(), nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := led.MarkInProgress(103); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	rec := &classify.Record{
		RunID: 103,
		Jobs: []classify.JobClassification{
			{JobName: "unit-tests", JobID: 31, Category: "test-flake/timeout/12345", IsFlake: true, Summary: "timed out"},
		},
	}
	if err := led.MarkDone(103, led.SlotRef(103), rec); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read progress.md: %v", err)
	}
	doc := string(data)
	if !strings.Contains(doc, "- `test-flake/timeout` -- timed out") {
		t.Errorf("categories block missing base key entry:\n%s", doc)
	}
	if !strings.Contains(doc, "<!-- BEGIN RUN 103 -->") || !strings.Contains(doc, "<!-- END RUN 103 -->") {
		t.Errorf("run 103 block markers missing:\n%s", doc)
	}
}

func TestLedger_TerminalTransitionPanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.md")
	led, err := Init(path, testRuns(), nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := led.MarkInProgress(101); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := led.MarkFailed(101, "agent crashed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic when resurrecting a terminal task")
		}
	}()
	_ = led.MarkInProgress(101)
}

func TestLedger_UnknownRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.md")
	led, err := Init(path, testRuns(), nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := led.MarkInProgress(999); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestSlotRoundTrip(t *testing.T) {
	run := testRuns()[0]
	rec := &classify.Record{
		RunID:     run.ID,
		RunURL:    run.URL,
		Branch:    run.Branch,
		StartedAt: run.StartedAt,
		Jobs: []classify.JobClassification{
			{JobName: "unit-tests", JobID: 31, Category: "infra-flake/registry-502", Summary: "registry 502 during image pull"},
		},
	}

	path := filepath.Join(t.TempDir(), "runs", "run-103.md")
	if err := WriteSlot(path, run, rec); err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	got, err := ReadSlot(path)
	if err != nil {
		t.Fatalf("ReadSlot: %v", err)
	}
	if got.Status != StatusDone || got.Run.ID != run.ID {
		t.Fatalf("slot task: status=%s run=%d", got.Status, got.Run.ID)
	}
	if got.Record == nil {
		t.Fatal("slot record missing")
	}
	if diff := cmp.Diff(rec.Jobs, got.Record.Jobs); diff != "" {
		t.Errorf("slot classifications mismatch (-want +got):\n%s", diff)
	}
	if got.Run.Jobs[0].ID != 31 {
		t.Errorf("job id lost in slot round trip: %+v", got.Run.Jobs[0])
	}
}
