package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flakectl/internal/config"
	"flakectl/internal/ghfetch"
	"flakectl/internal/ledger"
	"flakectl/internal/logging"
	"flakectl/internal/report"
)

var fetchFlags struct {
	repo         string
	branch       string
	workflow     string
	lookbackDays int
	skipJobs     []string
	outputDir    string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch recent failed workflow runs and initialize the task ledger",
	Long: `Fetches failed workflow runs from the GitHub Actions API for the
configured lookback window, writes them to failed_jobs.csv and creates a fresh
progress.md with one pending classification task per run.`,
	RunE: runFetch,
}

func init() {
	f := fetchCmd.Flags()
	f.StringVar(&fetchFlags.repo, "repo", "", "Repository, owner/name (default: config)")
	f.StringVar(&fetchFlags.branch, "branch", "", "Branch filter, comma-separated or * (default: config)")
	f.StringVar(&fetchFlags.workflow, "workflow", "", "Workflow filter, comma-separated or * (default: config)")
	f.IntVar(&fetchFlags.lookbackDays, "lookback-days", 0, "How many days back to fetch (default: config)")
	f.StringSliceVar(&fetchFlags.skipJobs, "skip-jobs", nil, "Job names to exclude from classification")
	f.StringVar(&fetchFlags.outputDir, "output-dir", "", "Directory for failed_jobs.csv, progress.md and reports (default: config)")
}

func applyFetchOverrides(c *config.Config) {
	if fetchFlags.repo != "" {
		c.Repo = fetchFlags.repo
	}
	if fetchFlags.branch != "" {
		c.Branch = fetchFlags.branch
	}
	if fetchFlags.workflow != "" {
		c.Workflow = fetchFlags.workflow
	}
	if fetchFlags.lookbackDays > 0 {
		c.LookbackDays = fetchFlags.lookbackDays
	}
	if len(fetchFlags.skipJobs) > 0 {
		c.SkipJobs = fetchFlags.skipJobs
	}
	if fetchFlags.outputDir != "" {
		c.OutputDir = fetchFlags.outputDir
	}
}

func runFetch(cmd *cobra.Command, _ []string) error {
	applyFetchOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	client, err := newGitHubClient(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx := cmd.Context()
	runs, err := ghfetch.FetchFailedRuns(ctx, client, cfg.Workflows(), cfg.Branches(), lookback(cfg))
	if err != nil {
		return fmt.Errorf("fetch failed runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		if err := report.WriteNoFailures(cfg.OutputDir, nowUTC(), noFailureFilters(cfg)); err != nil {
			return err
		}
		fmt.Fprintln(out, report.NoFailuresMessage)
		exitStatus = statusNoFailures
		return nil
	}

	if err := ghfetch.WriteCSV(runs, runsCSVPath(cfg)); err != nil {
		return err
	}
	led, err := ledger.Init(progressPath(cfg), runs, cfg.SkipJobs)
	if err != nil {
		return err
	}
	logging.New("fetch").Info("snapshot written",
		"runs", len(runs), "tasks", len(led.Tasks()), "dir", cfg.OutputDir)

	fmt.Fprintln(out, runTable(runs))
	fmt.Fprintf(out, "%d failed runs written to %s; %d tasks pending in %s\n",
		len(runs), runsCSVPath(cfg), len(led.Tasks()), led.Path())
	return nil
}
