package report

import (
	"encoding/json"
	"fmt"

	"flakectl/internal/correlate"
	"flakectl/internal/merge"
)

// jsonReport is the on-disk shape of report.json.
type jsonReport struct {
	Date            string          `json:"date"`
	Status          string          `json:"status"`
	Message         string          `json:"message,omitempty"`
	TotalRuns       int             `json:"total_runs"`
	FlakeRuns       int             `json:"flake_runs"`
	RealFailureRuns int             `json:"real_failure_runs"`
	UnclearRuns     int             `json:"unclear_runs"`
	TotalJobs       int             `json:"total_jobs"`
	ClassifiedRuns  int             `json:"classified_runs"`
	AttemptedRuns   int             `json:"attempted_runs"`
	Categories      []jsonCategory  `json:"categories"`
	UnfinishedRuns  []UnfinishedRun `json:"unfinished_runs"`
}

type jsonCategory struct {
	Name           string                `json:"name"`
	IsFlake        string                `json:"is_flake"`
	Runs           int                   `json:"runs"`
	Jobs           int                   `json:"jobs"`
	TestIDs        []string              `json:"test_ids"`
	ExampleError   string                `json:"example_error"`
	ExampleSummary string                `json:"example_summary"`
	LastOccurred   string                `json:"last_occurred"`
	AffectedRuns   []jsonAffectedRun     `json:"affected_runs"`
	Fixes          []correlate.Candidate `json:"fixes,omitempty"`
}

type jsonAffectedRun struct {
	RunID  int64  `json:"run_id"`
	RunURL string `json:"run_url"`
	Branch string `json:"branch"`
	Date   string `json:"date"`
}

// RenderJSON builds report.json.
func RenderJSON(in Input) ([]byte, error) {
	r := jsonReport{
		Date:            in.Date.UTC().Format("2006-01-02"),
		Status:          "ok",
		TotalRuns:       in.Result.Totals.TotalRuns,
		FlakeRuns:       in.Result.Totals.FlakeRuns,
		RealFailureRuns: in.Result.Totals.RealFailureRuns,
		UnclearRuns:     in.Result.Totals.UnclearRuns,
		TotalJobs:       in.Result.Totals.ClassifiedJobs + in.Result.Totals.UnclassifiedJobs,
		ClassifiedRuns:  in.Classified,
		AttemptedRuns:   in.Attempted,
		Categories:      []jsonCategory{},
		UnfinishedRuns:  []UnfinishedRun{},
	}

	fixesByName := fixIndex(in.Fixes)
	cats := in.Result.Categories
	if in.Result.Unclassified != nil {
		cats = append(append([]merge.Category(nil), cats...), *in.Result.Unclassified)
	}
	for _, cat := range cats {
		jc := jsonCategory{
			Name:           cat.Name,
			IsFlake:        boolWord(cat.IsFlake),
			Runs:           cat.RunCount,
			Jobs:           cat.JobCount,
			TestIDs:        append([]string{}, cat.TestIDs...),
			ExampleError:   cat.Representative.Excerpt,
			ExampleSummary: cat.Representative.Summary,
			LastOccurred:   isoOrEmpty(cat),
			AffectedRuns:   []jsonAffectedRun{},
			Fixes:          fixesByName[cat.Name],
		}
		for _, run := range cat.Runs {
			jc.AffectedRuns = append(jc.AffectedRuns, jsonAffectedRun{
				RunID:  run.RunID,
				RunURL: run.RunURL,
				Branch: run.Branch,
				Date:   run.StartedAt.UTC().Format("2006-01-02"),
			})
		}
		r.Categories = append(r.Categories, jc)
	}
	if in.Unfinished != nil {
		r.UnfinishedRuns = in.Unfinished
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

func boolWord(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func isoOrEmpty(cat merge.Category) string {
	if cat.LastSeen.IsZero() {
		return ""
	}
	return cat.LastSeen.UTC().Format("2006-01-02T15:04:05Z")
}
