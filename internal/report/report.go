// Package report renders the merged, correlated category set into the
// three output artifacts: report.md (narrative), report.json (structured)
// and summary.txt (one-paragraph digest). Rendering is a pure function of
// the input; the only I/O is writing the three files.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"flakectl/internal/classify"
	"flakectl/internal/correlate"
	"flakectl/internal/display"
	"flakectl/internal/format"
	"flakectl/internal/ledger"
	"flakectl/internal/logging"
	"flakectl/internal/merge"
)

const (
	maxErrorExcerpt   = 200
	maxSummaryExcerpt = 600
	maxBranchWidth    = 40
)

// UnfinishedRun is one run that never reached done, listed so partial
// coverage is never silently hidden.
type UnfinishedRun struct {
	RunID  int64  `json:"run_id"`
	RunURL string `json:"run_url"`
	Status string `json:"status"`
}

// Input is everything the assembler needs for one report.
type Input struct {
	Repo       string
	Date       time.Time
	Result     merge.Result
	Fixes      []correlate.CategoryFixes
	Unfinished []UnfinishedRun
	// Classified and Attempted feed the "N of M runs classified" line.
	Classified int
	Attempted  int
}

// UnfinishedFromSnapshot extracts the non-done tasks of a ledger snapshot.
func UnfinishedFromSnapshot(states []ledger.TaskState) []UnfinishedRun {
	var out []UnfinishedRun
	for _, st := range states {
		if st.Status != ledger.StatusDone {
			out = append(out, UnfinishedRun{RunID: st.RunID, RunURL: st.RunURL, Status: string(st.Status)})
		}
	}
	return out
}

// WriteAll renders and writes report.md, report.json and summary.txt into
// dir.
func WriteAll(dir string, in Input) error {
	log := logging.New("report")
	files := map[string][]byte{
		"report.md":   []byte(RenderMarkdown(in)),
		"summary.txt": []byte(Summary(in) + "\n"),
	}
	jsonData, err := RenderJSON(in)
	if err != nil {
		return err
	}
	files["report.json"] = jsonData

	for _, name := range []string{"report.md", "report.json", "summary.txt"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, files[name], 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		log.Info("wrote artifact", "path", path)
	}
	return nil
}

// RenderMarkdown builds report.md: header, flake and real-failure summary
// tables, per-category detail sections, then unfinished runs.
func RenderMarkdown(in Input) string {
	var b strings.Builder
	b.WriteString("# Flaky Test Analysis\n\n")
	fmt.Fprintf(&b, "**Date:** %s\n\n", in.Date.UTC().Format("2006-01-02"))

	t := in.Result.Totals
	fmt.Fprintf(&b, "**%d failed runs** analyzed: **%d caused by flakes**, **%d caused by real failures**",
		t.TotalRuns, t.FlakeRuns, t.RealFailureRuns)
	if t.UnclearRuns > 0 {
		fmt.Fprintf(&b, ", **%d unclear**", t.UnclearRuns)
	}
	b.WriteString(".\n\n")
	if in.Classified < in.Attempted {
		fmt.Fprintf(&b, "%s classified.\n\n", format.FmtRatio(in.Classified, in.Attempted))
	}
	b.WriteString("Each category below maps to exactly **1 root cause / 1 fix**.\n\n")

	flakes, real := partition(in.Result.Categories)
	fixesByName := fixIndex(in.Fixes)

	b.WriteString("## Summary\n\n")
	if len(flakes) > 0 {
		b.WriteString("### Flakes\n\n")
		b.WriteString(summaryTable(flakes, fixesByName, in.Date))
		b.WriteString("\n\n")
	}
	if len(real) > 0 {
		b.WriteString("### Real Failures\n\n")
		b.WriteString(summaryTable(real, fixesByName, in.Date))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "**Total: %d failed runs, %d failed jobs**\n\n",
		t.TotalRuns, t.ClassifiedJobs+t.UnclassifiedJobs)

	b.WriteString("---\n\n## Root Causes (Detail)\n\n")
	for _, nc := range append(flakes, real...) {
		detailSection(&b, nc, fixesByName[nc.cat.Name], in.Date)
	}
	if in.Result.Unclassified != nil {
		detailSection(&b, numbered{len(in.Result.Categories) + 1, *in.Result.Unclassified}, nil, in.Date)
	}

	if len(in.Unfinished) > 0 {
		b.WriteString("---\n\n## Unfinished Runs\n\n")
		tb := format.NewMarkdown()
		tb.Header("Run ID", "Status")
		for _, r := range in.Unfinished {
			tb.Row(runLink(r.RunID, r.RunURL), r.Status)
		}
		b.WriteString(tb.String())
		b.WriteString("\n")
	}
	return b.String()
}

// numbered pairs a category with its global 1-based index, so detail
// sections keep the numbering of the summary tables.
type numbered struct {
	idx int
	cat merge.Category
}

func partition(cats []merge.Category) (flakes, real []numbered) {
	for i, cat := range cats {
		nc := numbered{i + 1, cat}
		if cat.IsFlake {
			flakes = append(flakes, nc)
		} else {
			real = append(real, nc)
		}
	}
	return flakes, real
}

func summaryTable(cats []numbered, fixes map[string][]correlate.Candidate, ref time.Time) string {
	tb := format.NewMarkdown()
	tb.Header("#", "Category", "Runs/Jobs", "Last Occurred", "Fix(-es)")
	for _, nc := range cats {
		var confirmed []string
		for _, item := range fixes[nc.cat.Name] {
			if item.Confidence == correlate.Confirmed {
				confirmed = append(confirmed, fixLink(item))
			}
		}
		tb.Row(
			nc.idx,
			"`"+nc.cat.Name+"`",
			fmt.Sprintf("%d/%d", nc.cat.RunCount, nc.cat.JobCount),
			relativeDate(nc.cat.LastSeen, ref),
			strings.Join(confirmed, ", "),
		)
	}
	return tb.String()
}

func detailSection(b *strings.Builder, nc numbered, fixes []correlate.Candidate, ref time.Time) {
	cat := nc.cat
	fmt.Fprintf(b, "### %d. `%s`\n\n", nc.idx, cat.Name)
	if cat.Representative.Summary != "" {
		fmt.Fprintf(b, "**Description:** %s\n\n", format.Truncate(cat.Representative.Summary, maxSummaryExcerpt))
	}
	if kind := classify.KindOf(cat.Name); kind != "" {
		fmt.Fprintf(b, "- **Kind:** %s\n", display.Kind(kind))
	}
	fmt.Fprintf(b, "- **Flake:** %s\n", format.Verdict(cat.IsFlake))
	fmt.Fprintf(b, "- **Failed runs:** %d\n", cat.RunCount)
	fmt.Fprintf(b, "- **Failed jobs:** %d\n", cat.JobCount)
	if len(cat.TestIDs) > 0 {
		fmt.Fprintf(b, "- **Test IDs:** %s\n", strings.Join(cat.TestIDs, ", "))
	}
	if len(fixes) > 0 {
		b.WriteString("- **Fix(-es):**\n")
		confirmed, possible := splitByConfidence(fixes)
		for _, item := range confirmed {
			b.WriteString(fixDetailLine(item) + "\n")
		}
		if len(possible) > 0 {
			b.WriteString("  <details><summary>Possible fixes</summary>\n\n")
			for _, item := range possible {
				b.WriteString(fixDetailLine(item) + "\n")
			}
			b.WriteString("  </details>\n")
		}
	}
	if cat.Representative.Excerpt != "" {
		fmt.Fprintf(b, "- **Example error:** `%s`\n", format.Truncate(cat.Representative.Excerpt, maxErrorExcerpt))
	}
	b.WriteString("\n")

	tb := format.NewMarkdown()
	tb.Header("Run ID", "Branch", "Date")
	for _, r := range cat.Runs {
		tb.Row(runLink(r.RunID, r.RunURL), format.Truncate(r.Branch, maxBranchWidth), format.FmtDate(r.StartedAt))
	}
	b.WriteString(tb.String())
	b.WriteString("\n\n")
}

// splitByConfidence orders fixes for the detail list: commits before PRs,
// newest first within each group, confirmed separated from possible.
func splitByConfidence(fixes []correlate.Candidate) (confirmed, possible []correlate.Candidate) {
	ordered := append([]correlate.Candidate(nil), fixes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Type != ordered[j].Type {
			return ordered[i].Type == "commit"
		}
		return ordered[i].Date.After(ordered[j].Date)
	})
	for _, item := range ordered {
		if item.Confidence == correlate.Confirmed {
			confirmed = append(confirmed, item)
		} else {
			possible = append(possible, item)
		}
	}
	return confirmed, possible
}

func fixLink(item correlate.Candidate) string {
	link := fmt.Sprintf("[%s](%s)", item.ID, item.URL)
	if item.Confidence == correlate.Possible {
		link += " (possibly)"
	}
	return link
}

func fixDetailLine(item correlate.Candidate) string {
	parts := []string{}
	if !item.Date.IsZero() {
		parts = append(parts, format.FmtDate(item.Date))
	}
	parts = append(parts, fmt.Sprintf("[%s](%s)", item.ID, item.URL))
	if item.Title != "" {
		parts = append(parts, item.Title)
	}
	return "  - " + strings.Join(parts, " ")
}

func fixIndex(fixes []correlate.CategoryFixes) map[string][]correlate.Candidate {
	out := make(map[string][]correlate.Candidate, len(fixes))
	for _, f := range fixes {
		if len(f.Items) > 0 {
			out[f.Category] = f.Items
		}
	}
	return out
}

func runLink(id int64, url string) string {
	if url == "" {
		return fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("[%d](%s)", id, url)
}

// relativeDate renders a recency column value against the analysis date.
func relativeDate(ts, ref time.Time) string {
	if ts.IsZero() {
		return ""
	}
	days := int(ref.UTC().Truncate(24*time.Hour).Sub(ts.UTC().Truncate(24*time.Hour)).Hours() / 24)
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}

// Summary builds summary.txt: totals plus the single highest-impact
// category, with an incompleteness note when coverage was partial.
func Summary(in Input) string {
	t := in.Result.Totals
	if t.TotalRuns == 0 && len(in.Unfinished) == 0 {
		return NoFailuresMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d failed runs: %d caused by flakes, %d by real failures",
		t.TotalRuns, t.FlakeRuns, t.RealFailureRuns)
	if t.UnclearRuns > 0 {
		fmt.Fprintf(&b, ", %d unclear", t.UnclearRuns)
	}
	b.WriteString(".")
	if len(in.Result.Categories) > 0 {
		top := in.Result.Categories[0]
		fmt.Fprintf(&b, " Top root cause: %s (%d jobs across %d runs, flake: %s).",
			top.Name, top.JobCount, top.RunCount, format.Verdict(top.IsFlake))
	}
	if in.Classified < in.Attempted {
		fmt.Fprintf(&b, " Partial coverage: %s classified.", format.FmtRatio(in.Classified, in.Attempted))
	}
	return b.String()
}
