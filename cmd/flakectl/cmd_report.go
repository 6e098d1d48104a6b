package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flakectl/internal/config"
	"flakectl/internal/correlate"
	"flakectl/internal/logging"
	"flakectl/internal/merge"
	"flakectl/internal/report"
	"flakectl/internal/store"
)

var reportFlags struct {
	outputDir string
	noFixes   bool
	noArchive bool
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Merge recorded verdicts and write the report artifacts",
	Long: `Folds the classification records from progress.md into root-cause
categories, searches repository history for likely fixes and writes
report.md, report.json and summary.txt. Fix correlation is best effort;
history lookups that fail leave the report without fix suggestions.`,
	RunE: runReport,
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportFlags.outputDir, "output-dir", "", "Directory holding progress.md and reports (default: config)")
	f.BoolVar(&reportFlags.noFixes, "no-fixes", false, "Skip fix correlation against repository history")
	f.BoolVar(&reportFlags.noArchive, "no-archive", false, "Skip archiving the analysis into the local store")
}

func runReport(cmd *cobra.Command, _ []string) error {
	if reportFlags.outputDir != "" {
		cfg.OutputDir = reportFlags.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	led, err := loadLedger(cfg)
	if err != nil {
		return err
	}

	res := merge.Fold(led.Records(), mergeOptions(cfg))

	// A fixes.json left by 'flakectl correlate' wins over re-running the
	// correlator here.
	fixes, err := correlate.LoadFixes(fixesPath(cfg))
	if err != nil || fixes == nil {
		fixes = correlateFixes(cmd, cfg, res)
	}

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

	fmt.Fprintln(cmd.OutOrStdout(), report.Summary(in))
	return nil
}

// correlateFixes runs the fix correlator and writes fixes.json. Any
// failure here degrades the report instead of failing the command.
func correlateFixes(cmd *cobra.Command, c config.Config, res merge.Result) []correlate.CategoryFixes {
	log := logging.New("report")
	if reportFlags.noFixes {
		return nil
	}
	client, err := newGitHubClient(c)
	if err != nil {
		log.Warn("fix correlation skipped", "error", err)
		return nil
	}
	corr := correlate.New(client, correlate.Options{
		Lookback: lookback(c),
	})
	fixes := corr.Run(cmd.Context(), res.Categories)
	if err := correlate.WriteFixes(fixesPath(c), fixes); err != nil {
		log.Warn("could not write fixes.json", "error", err)
	}
	return fixes
}

// archiveAnalysis records the analysis in the local SQLite store so
// 'flakectl history' can track categories across invocations. Best
// effort; the report artifacts are already on disk.
func archiveAnalysis(c config.Config, date time.Time, res merge.Result, fixes []correlate.CategoryFixes) {
	log := logging.New("report")
	arc, err := store.Open(c.StorePath)
	if err != nil {
		log.Warn("analysis not archived", "error", err)
		return
	}
	defer arc.Close()
	id, err := arc.SaveAnalysis(c.Repo, date, res, fixes)
	if err != nil {
		log.Warn("analysis not archived", "error", err)
		return
	}
	log.Info("analysis archived", "id", id, "store", c.StorePath)
}
