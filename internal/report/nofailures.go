package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flakectl/internal/logging"
)

// NoFailuresMessage is the distinguished text emitted when the fetch found
// zero failed runs.
const NoFailuresMessage = "No failed workflow runs found for the selected filters."

// Filters describes the fetch window for the no-failures artifacts, so the
// report still tells the reader what was searched.
type Filters struct {
	Repo         string
	Branch       string
	Workflow     string
	LookbackDays int
}

// WriteNoFailures emits the no-failures variant of all three artifacts.
// An empty category set is a distinguished terminal outcome, not an empty
// report.
func WriteNoFailures(dir string, date time.Time, f Filters) error {
	log := logging.New("report")

	var md strings.Builder
	md.WriteString("# Flaky Test Analysis\n\n")
	fmt.Fprintf(&md, "**Date:** %s\n\n", date.UTC().Format("2006-01-02"))
	md.WriteString(NoFailuresMessage + "\n\n")
	fmt.Fprintf(&md, "- Repository: `%s`\n", f.Repo)
	fmt.Fprintf(&md, "- Branch filter: `%s`\n", f.Branch)
	fmt.Fprintf(&md, "- Workflow filter: `%s`\n", f.Workflow)
	fmt.Fprintf(&md, "- Look-back days: `%d`\n", f.LookbackDays)

	jsonData, err := json.MarshalIndent(jsonReport{
		Date:           date.UTC().Format("2006-01-02"),
		Status:         "no-failures",
		Message:        NoFailuresMessage,
		Categories:     []jsonCategory{},
		UnfinishedRuns: []UnfinishedRun{},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal no-failures report: %w", err)
	}

	files := map[string][]byte{
		"report.md":   []byte(md.String()),
		"report.json": append(jsonData, '\n'),
		"summary.txt": []byte(NoFailuresMessage + "\n"),
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		log.Info("wrote artifact", "path", path)
	}
	return nil
}
