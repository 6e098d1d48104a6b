package schedule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flakectl/internal/classify"
	"flakectl/internal/ghfetch"
	"flakectl/internal/ledger"
)

// capFunc adapts a function into a classify.Capability.
type capFunc func(ctx context.Context, req classify.Request) (*classify.Record, error)

func (f capFunc) Classify(ctx context.Context, req classify.Request) (*classify.Record, error) {
	return f(ctx, req)
}

func testRuns(n int) []ghfetch.FailedRun {
	runs := make([]ghfetch.FailedRun, 0, n)
	for i := 0; i < n; i++ {
		id := int64(100 + i)
		runs = append(runs, ghfetch.FailedRun{
			ID:        id,
			URL:       fmt.Sprintf("https://github.com/acme/widgets/actions/runs/%d", id),
			Branch:    "main",
			StartedAt: time.Date(2026, 3, 1, 10, i, 0, 0, time.UTC),
			Jobs:      []ghfetch.FailedJob{{ID: id*10 + 1, Name: "unit-tests"}},
		})
	}
	return runs
}

func recordFor(run ghfetch.FailedRun, category string) *classify.Record {
	rec := &classify.Record{
		RunID:     run.ID,
		RunURL:    run.URL,
		Branch:    run.Branch,
		StartedAt: run.StartedAt,
	}
	for _, job := range run.Jobs {
		rec.Jobs = append(rec.Jobs, classify.JobClassification{
			JobName:  job.Name,
			JobID:    job.ID,
			Category: category,
			IsFlake:  classify.KindOf(category) == "test-flake" || classify.KindOf(category) == "infra-flake",
			Summary:  "stub verdict",
		})
	}
	return rec
}

func newTestLedger(t *testing.T, runs []ghfetch.FailedRun) *ledger.Ledger {
	t.Helper()
	led, err := ledger.Init(filepath.Join(t.TempDir(), "progress.md"), runs, nil)
	if err != nil {
		t.Fatalf("ledger.Init: %v", err)
	}
	return led
}

func statusByRun(led *ledger.Ledger) map[int64]ledger.Status {
	out := make(map[int64]ledger.Status)
	for _, st := range led.Snapshot() {
		out[st.RunID] = st.Status
	}
	return out
}

func TestRun_AllDone(t *testing.T) {
	runs := testRuns(3)
	led := newTestLedger(t, runs)

	cap := capFunc(func(ctx context.Context, req classify.Request) (*classify.Record, error) {
		return recordFor(req.Run, "test-flake/timeout"), nil
	})
	out, err := New(led, cap, Options{Workers: 2, StaleTimeout: time.Minute}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Done != 3 || out.Failed != 0 || out.TimedOut != 0 || out.Stale {
		t.Errorf("outcome = %+v, want 3 done", out)
	}
	for id, st := range statusByRun(led) {
		if st != ledger.StatusDone {
			t.Errorf("run %d status = %s, want done", id, st)
		}
	}
	for _, run := range runs {
		if _, err := os.Stat(led.SlotPath(run.ID)); err != nil {
			t.Errorf("slot for run %d not written: %v", run.ID, err)
		}
	}
}

func TestRun_TaskFailureIsRecordedNotFatal(t *testing.T) {
	runs := testRuns(3)
	led := newTestLedger(t, runs)

	cap := capFunc(func(ctx context.Context, req classify.Request) (*classify.Record, error) {
		if req.Run.ID == runs[1].ID {
			return nil, fmt.Errorf("run %d after 8 turns: %w", req.Run.ID, classify.ErrTurnLimit)
		}
		return recordFor(req.Run, "bug/nil-deref"), nil
	})
	out, err := New(led, cap, Options{Workers: 1, StaleTimeout: time.Minute}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Done != 2 || out.Failed != 1 {
		t.Errorf("outcome = %+v, want 2 done 1 failed", out)
	}
	st := statusByRun(led)
	if st[runs[1].ID] != ledger.StatusFailed {
		t.Errorf("run %d status = %s, want failed", runs[1].ID, st[runs[1].ID])
	}
}

func TestRun_KnownCategoriesAccumulate(t *testing.T) {
	runs := testRuns(3)
	led := newTestLedger(t, runs)

	var seen [][]string
	cap := capFunc(func(ctx context.Context, req classify.Request) (*classify.Record, error) {
		seen = append(seen, req.KnownCategories)
		return recordFor(req.Run, fmt.Sprintf("test-flake/cause-%d", req.Run.ID)), nil
	})
	// One worker: tasks run strictly in sequence, so each task must see
	// the categories of every earlier one.
	if _, err := New(led, cap, Options{Workers: 1, StaleTimeout: time.Minute}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("capability called %d times, want 3", len(seen))
	}
	for i, known := range seen {
		if len(known) != i {
			t.Errorf("task %d saw %d known categories, want %d (%v)", i, len(known), i, known)
		}
	}
}

func TestRun_SeedCategoriesVisible(t *testing.T) {
	runs := testRuns(1)
	led := newTestLedger(t, runs)

	var got []string
	cap := capFunc(func(ctx context.Context, req classify.Request) (*classify.Record, error) {
		got = req.KnownCategories
		return recordFor(req.Run, "test-flake/timeout"), nil
	})
	opts := Options{
		Workers:      1,
		StaleTimeout: time.Minute,
		Seed:         []string{"infra-flake/registry-502/pull-job", "bug/nil-deref"},
	}
	if _, err := New(led, cap, opts).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Seed names fold to base keys and arrive sorted.
	want := []string{"bug/nil-deref", "infra-flake/registry-502"}
	if len(got) != len(want) {
		t.Fatalf("known categories: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("known categories: got %v, want %v", got, want)
		}
	}
}

func TestRun_StalenessWatchdog(t *testing.T) {
	runs := testRuns(2)
	led := newTestLedger(t, runs)

	cap := capFunc(func(ctx context.Context, req classify.Request) (*classify.Record, error) {
		if req.Run.ID == runs[1].ID {
			// Hangs until the watchdog cancels the pass.
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return recordFor(req.Run, "infra-flake/runner-lost"), nil
	})
	out, err := New(led, cap, Options{Workers: 2, StaleTimeout: 100 * time.Millisecond}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Stale {
		t.Error("outcome.Stale = false, want true")
	}
	if out.Done != 1 || out.TimedOut != 1 {
		t.Errorf("outcome = %+v, want 1 done 1 timed_out", out)
	}
	st := statusByRun(led)
	if st[runs[1].ID] != ledger.StatusTimedOut {
		t.Errorf("hung run status = %s, want timed_out", st[runs[1].ID])
	}
}

func TestRun_NoPendingTasks(t *testing.T) {
	led := newTestLedger(t, nil)
	called := false
	cap := capFunc(func(ctx context.Context, req classify.Request) (*classify.Record, error) {
		called = true
		return nil, nil
	})
	out, err := New(led, cap, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Error("capability called with no pending tasks")
	}
	if out != (Outcome{}) {
		t.Errorf("outcome = %+v, want zero", out)
	}
}
