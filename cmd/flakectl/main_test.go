package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flakectl/internal/classify"
	"flakectl/internal/config"
	"flakectl/internal/ghfetch"
	"flakectl/internal/ledger"
	"flakectl/internal/merge"
	"flakectl/internal/store"
)

// seedLedger prepares an output dir with a classified ledger the report
// stages can consume.
func seedLedger(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runs := []ghfetch.FailedRun{
		{
			ID:        7,
			URL:       "https://github.com/acme/widgets/actions/runs/7",
			Workflow:  "ci",
			Branch:    "main",
			StartedAt: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
			Jobs:      []ghfetch.FailedJob{{ID: 71, Name: "unit-tests"}},
		},
	}
	led, err := ledger.Init(filepath.Join(dir, "progress.md"), runs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := led.MarkInProgress(7); err != nil {
		t.Fatal(err)
	}
	rec := &classify.Record{
		RunID:     7,
		RunURL:    runs[0].URL,
		Branch:    "main",
		StartedAt: runs[0].StartedAt,
		Jobs: []classify.JobClassification{{
			JobName:      "unit-tests",
			JobID:        71,
			Category:     "test-flake/timeout",
			IsFlake:      true,
			TestIDs:      []string{"55"},
			FailedTest:   "TestThing",
			ErrorMessage: "context deadline exceeded",
			Summary:      "test timed out waiting for the event loop",
		}},
	}
	if err := ledger.WriteSlot(led.SlotPath(7), runs[0], rec); err != nil {
		t.Fatal(err)
	}
	if err := led.MarkDone(7, led.SlotRef(7), rec); err != nil {
		t.Fatal(err)
	}
	return dir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("flakectl %s: %v\n%s", strings.Join(args, " "), err, buf.String())
	}
	return buf.String()
}

func TestReportCommand_WritesArtifacts(t *testing.T) {
	t.Setenv("FLAKECTL_REPO", "acme/widgets")
	dir := seedLedger(t)

	out := execute(t, "report",
		"--config", filepath.Join(dir, "no-such.yaml"),
		"--output-dir", dir,
		"--no-fixes", "--no-archive")

	for _, name := range []string{"report.md", "report.json", "summary.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if !strings.Contains(out, "test-flake/timeout") {
		t.Errorf("summary output missing top category, got %q", out)
	}
}

func TestKnownCategorySeed(t *testing.T) {
	dir := t.TempDir()
	c := config.Config{
		Repo:      "acme/widgets",
		StorePath: filepath.Join(dir, "flakectl.db"),
	}

	// No archive yet: empty seed, no file created.
	if seed := knownCategorySeed(c); seed != nil {
		t.Fatalf("seed without archive: %v", seed)
	}
	if _, err := os.Stat(c.StorePath); err == nil {
		t.Fatal("seed lookup must not create the archive")
	}

	arc, err := store.Open(c.StorePath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	res := merge.Result{
		Categories: []merge.Category{
			{Name: "test-flake/timeout", IsFlake: true, RunCount: 1, JobCount: 1},
			{Name: "bug/nil-deref", RunCount: 1, JobCount: 1},
		},
		Totals: merge.Totals{TotalRuns: 2, FlakeRuns: 1, RealFailureRuns: 1, ClassifiedJobs: 2},
	}
	if _, err := arc.SaveAnalysis(c.Repo, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), res, nil); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	arc.Close()

	seed := knownCategorySeed(c)
	want := []string{"bug/nil-deref", "test-flake/timeout"}
	if len(seed) != len(want) || seed[0] != want[0] || seed[1] != want[1] {
		t.Errorf("seed = %v, want %v", seed, want)
	}
}

func TestStatusCommand_ShowsLedger(t *testing.T) {
	t.Setenv("FLAKECTL_REPO", "acme/widgets")
	dir := seedLedger(t)

	out := execute(t, "status",
		"--config", filepath.Join(dir, "no-such.yaml"),
		"--output-dir", dir)

	if !strings.Contains(out, "Done") {
		t.Errorf("status output missing Done row, got %q", out)
	}
	if !strings.Contains(out, "1 of 1 tasks classified") {
		t.Errorf("status output missing counts, got %q", out)
	}
}
