package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flakectl/internal/ghfetch"
	"flakectl/internal/ledger"
)

var ledgerFlags struct {
	csvPath   string
	skipJobs  []string
	outputDir string
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Rebuild progress.md from a failed_jobs.csv snapshot",
	Long: `Re-initializes the task ledger from a previously fetched failed_jobs.csv,
discarding any recorded progress. Useful to restart a pass with a
different skip-jobs filter without refetching from the API.`,
	RunE: runLedgerInit,
}

func init() {
	f := ledgerCmd.Flags()
	f.StringVar(&ledgerFlags.csvPath, "csv", "", "Snapshot to load (default: <output-dir>/failed_jobs.csv)")
	f.StringSliceVar(&ledgerFlags.skipJobs, "skip-jobs", nil, "Job names to exclude from classification")
	f.StringVar(&ledgerFlags.outputDir, "output-dir", "", "Directory for progress.md (default: config)")
}

func runLedgerInit(cmd *cobra.Command, _ []string) error {
	if ledgerFlags.outputDir != "" {
		cfg.OutputDir = ledgerFlags.outputDir
	}
	if len(ledgerFlags.skipJobs) > 0 {
		cfg.SkipJobs = ledgerFlags.skipJobs
	}
	csvPath := ledgerFlags.csvPath
	if csvPath == "" {
		csvPath = runsCSVPath(cfg)
	}

	runs, err := ghfetch.LoadCSV(csvPath)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	led, err := ledger.Init(progressPath(cfg), runs, cfg.SkipJobs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d tasks pending in %s\n", len(led.Tasks()), led.Path())
	return nil
}
