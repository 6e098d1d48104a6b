package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flakectl/internal/correlate"
	"flakectl/internal/merge"
)

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Search repository history for likely fixes and write fixes.json",
	Long: `Matches the merged categories from progress.md against recent commits
and open pull requests, writing candidate fixes to fixes.json. Purely
additive: categories are never altered, and a failed history lookup
leaves a category's fix list empty.`,
	RunE: runCorrelate,
}

func init() {
	correlateCmd.Flags().StringVar(&reportFlags.outputDir, "output-dir", "", "Directory holding progress.md (default: config)")
}

func runCorrelate(cmd *cobra.Command, _ []string) error {
	if reportFlags.outputDir != "" {
		cfg.OutputDir = reportFlags.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	client, err := newGitHubClient(cfg)
	if err != nil {
		return err
	}
	led, err := loadLedger(cfg)
	if err != nil {
		return err
	}

	res := merge.Fold(led.Records(), mergeOptions(cfg))
	corr := correlate.New(client, correlate.Options{Lookback: lookback(cfg)})
	fixes := corr.Run(cmd.Context(), res.Categories)
	if err := correlate.WriteFixes(fixesPath(cfg), fixes); err != nil {
		return err
	}

	withItems := 0
	for _, cf := range fixes {
		if len(cf.Items) > 0 {
			withItems++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d categories have fix candidates (%s)\n",
		withItems, len(fixes), fixesPath(cfg))
	return nil
}
