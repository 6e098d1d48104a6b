package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flakectl/internal/display"
	"flakectl/internal/format"
	"flakectl/internal/store"
)

var historyFlags struct {
	storePath string
	category  string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived analyses and category trends",
	Long: `Lists analyses archived in the local store, newest first. With
--category, shows every archived occurrence of that category instead, so
a recurring flake can be tracked across invocations.`,
	RunE: runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.storePath, "store", "", "Store path (default: config)")
	f.StringVar(&historyFlags.category, "category", "", "Category name to trace across analyses")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyFlags.storePath != "" {
		cfg.StorePath = historyFlags.storePath
	}
	arc, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer arc.Close()

	out := cmd.OutOrStdout()
	if historyFlags.category != "" {
		occ, err := arc.CategoryHistory(historyFlags.category)
		if err != nil {
			return err
		}
		if len(occ) == 0 {
			fmt.Fprintf(out, "no archived occurrences of %q\n", historyFlags.category)
			return nil
		}
		fmt.Fprintln(out, display.CategoryKey(historyFlags.category))
		t := format.NewASCII()
		t.Header("Analysis", "Date", "Flake", "Runs", "Jobs")
		t.RightAlign(4)
		t.RightAlign(5)
		for _, o := range occ {
			t.Row(o.AnalysisID, o.Date, format.Verdict(o.IsFlake), o.RunCount, o.JobCount)
		}
		fmt.Fprintln(out, t.String())
		return nil
	}

	analyses, err := arc.ListAnalyses(cfg.Repo)
	if err != nil {
		return err
	}
	if len(analyses) == 0 {
		fmt.Fprintln(out, "no archived analyses yet")
		return nil
	}
	t := format.NewASCII()
	t.Header("ID", "Repo", "Date", "Runs", "Flake", "Real", "Unclear", "Jobs")
	for col := 4; col <= 8; col++ {
		t.RightAlign(col)
	}
	for _, a := range analyses {
		t.Row(a.ID, a.Repo, a.Date, a.TotalRuns, a.FlakeRuns, a.RealFailureRuns, a.UnclearRuns, a.TotalJobs)
	}
	fmt.Fprintln(out, t.String())
	return nil
}
