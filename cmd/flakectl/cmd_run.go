package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flakectl/internal/classify"
	"flakectl/internal/config"
	"flakectl/internal/ghfetch"
	"flakectl/internal/ledger"
	"flakectl/internal/logging"
	"flakectl/internal/merge"
	"flakectl/internal/report"
	"flakectl/internal/schedule"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: fetch, classify, correlate, report",
	Long: `Fetches failed runs, classifies them, merges the verdicts into
root-cause categories, correlates fixes and writes the report artifacts
in one pass. Exits with status 20 when the window holds no failed runs.`,
	RunE: runPipeline,
}

func init() {
	// The pipeline reuses the per-stage flags so 'flakectl run' accepts
	// the same knobs as the individual commands.
	runCmd.Flags().AddFlagSet(fetchCmd.Flags())
	runCmd.Flags().AddFlagSet(classifyCmd.Flags())
	runCmd.Flags().BoolVar(&reportFlags.noFixes, "no-fixes", false, "Skip fix correlation against repository history")
	runCmd.Flags().BoolVar(&reportFlags.noArchive, "no-archive", false, "Skip archiving the analysis into the local store")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	applyFetchOverrides(&cfg)
	applyClassifyOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := requireAnthropicKey(cfg); err != nil {
		return err
	}
	client, err := newGitHubClient(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	log := logging.New("run")
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// Fetch.
	runs, err := ghfetch.FetchFailedRuns(ctx, client, cfg.Workflows(), cfg.Branches(), lookback(cfg))
	if err != nil {
		return fmt.Errorf("fetch failed runs: %w", err)
	}
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
	log.Info("fetch stage complete", "runs", len(runs), "tasks", len(led.Tasks()))

	// Classify.
	hints, err := config.ResolveContext(cfg.Context)
	if err != nil {
		return err
	}
	agent := classify.NewAgent(cfg.AnthropicAPIKey, client, classify.AgentOptions{
		Model:      cfg.Model,
		TurnBudget: cfg.MaxTurnsClassify,
	})
	sched := schedule.New(led, agent, schedule.Options{
		Workers:      cfg.Workers,
		StaleTimeout: cfg.StaleTimeout(),
		Hints:        hints,
	})
	outcome, err := sched.Run(ctx)
	if err != nil {
		return fmt.Errorf("classification pass: %w", err)
	}
	log.Info("classify stage complete",
		"done", outcome.Done, "failed", outcome.Failed,
		"timed_out", outcome.TimedOut, "stale", outcome.Stale)

	// Merge, correlate, report.
	res := merge.Fold(led.Records(), mergeOptions(cfg))
	fixes := correlateFixes(cmd, cfg, res)
	classified, attempted := led.Counts()
	in := report.Input{
		Repo:       cfg.Repo,
		Date:       nowUTC(),
		Result:     res,
		Fixes:      fixes,
		Unfinished: report.UnfinishedFromSnapshot(led.Snapshot()),
		Classified: classified,
		Attempted:  attempted,
	}
	if err := report.WriteAll(cfg.OutputDir, in); err != nil {
		return err
	}
	if !reportFlags.noArchive {
		archiveAnalysis(cfg, in.Date, res, fixes)
	}

	fmt.Fprintln(out, report.Summary(in))
	fmt.Fprintf(out, "report written to %s\n", cfg.OutputDir)
	return nil
}
