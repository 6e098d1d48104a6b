package ghfetch

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"flakectl/internal/logging"
)

// jobFetchParallelism bounds concurrent per-run job lookups. The runs list
// is one call but jobs are one call per run; a small pool keeps a 7-day
// window under a few seconds without tripping secondary rate limits.
const jobFetchParallelism = 4

// FetchFailedRuns produces the invocation's snapshot: all failed runs in the
// lookback window matching the workflow and branch filters, each with its
// failed jobs attached. Runs whose jobs all succeeded on retry (no failed
// jobs) are dropped.
func FetchFailedRuns(ctx context.Context, c *Client, workflows, branches []string, lookback time.Duration) ([]FailedRun, error) {
	logger := logging.New("ghfetch")
	since := time.Now().UTC().Add(-lookback)

	runs, err := c.ListFailedRuns(ctx, workflows, branches, since)
	if err != nil {
		return nil, err
	}
	logger.Info("fetched failed runs", "repo", c.Repo, "since", since.Format("2006-01-02"), "runs", len(runs))

	// Each goroutine fills exactly one run's Jobs slice; no shared element.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobFetchParallelism)
	for i := range runs {
		run := &runs[i]
		g.Go(func() error {
			jobs, err := c.ListFailedJobs(gctx, run.ID)
			if err != nil {
				return err
			}
			run.Jobs = jobs
			logger.Debug("fetched jobs", "run", run.ID, "failed_jobs", len(jobs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch failed jobs: %w", err)
	}

	out := runs[:0]
	for _, r := range runs {
		if len(r.Jobs) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

var csvHeader = []string{
	"run_id", "run_url", "workflow", "branch", "event", "commit_sha",
	"job_id", "failed_job_name", "run_started_at", "job_completed_at",
	"run_attempt", "failure_step",
}

// WriteCSV exports one row per failed job, newest run first, in the layout
// later consumed by LoadCSV and the ledger init step.
func WriteCSV(runs []FailedRun, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, run := range runs {
		for _, job := range run.Jobs {
			completed := ""
			if !job.CompletedAt.IsZero() {
				completed = job.CompletedAt.UTC().Format(time.RFC3339)
			}
			rec := []string{
				strconv.FormatInt(run.ID, 10),
				run.URL,
				run.Workflow,
				run.Branch,
				run.Event,
				run.CommitSHA,
				strconv.FormatInt(job.ID, 10),
				job.Name,
				run.StartedAt.UTC().Format(time.RFC3339),
				completed,
				strconv.Itoa(run.Attempt),
				job.FailureStep,
			}
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

// LoadCSV reads a failed-jobs CSV back into FailedRun groups, preserving
// row order (newest first, as written).
func LoadCSV(path string) ([]FailedRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	for _, name := range csvHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, name)
		}
	}

	var order []int64
	byID := make(map[int64]*FailedRun)
	for _, rec := range records[1:] {
		runID, err := strconv.ParseInt(rec[col["run_id"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad run_id %q: %w", path, rec[col["run_id"]], err)
		}
		run, ok := byID[runID]
		if !ok {
			started, _ := time.Parse(time.RFC3339, rec[col["run_started_at"]])
			attempt, _ := strconv.Atoi(rec[col["run_attempt"]])
			run = &FailedRun{
				ID:        runID,
				URL:       rec[col["run_url"]],
				Workflow:  rec[col["workflow"]],
				Branch:    rec[col["branch"]],
				Event:     rec[col["event"]],
				CommitSHA: rec[col["commit_sha"]],
				StartedAt: started,
				Attempt:   attempt,
			}
			byID[runID] = run
			order = append(order, runID)
		}
		jobID, err := strconv.ParseInt(rec[col["job_id"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad job_id %q: %w", path, rec[col["job_id"]], err)
		}
		completed, _ := time.Parse(time.RFC3339, rec[col["job_completed_at"]])
		run.Jobs = append(run.Jobs, FailedJob{
			ID:          jobID,
			Name:        rec[col["failed_job_name"]],
			FailureStep: rec[col["failure_step"]],
			CompletedAt: completed,
		})
	}

	out := make([]FailedRun, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}
