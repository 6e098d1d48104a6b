package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the current ledger",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&reportFlags.outputDir, "output-dir", "", "Directory holding progress.md (default: config)")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if reportFlags.outputDir != "" {
		cfg.OutputDir = reportFlags.outputDir
	}
	led, err := loadLedger(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, taskTable(led.Snapshot()))
	done, total := led.Counts()
	fmt.Fprintf(out, "%d of %d tasks classified (%s)\n", done, total, led.Path())
	return nil
}
