package main

import (
	"fmt"
	"path/filepath"
	"time"

	"flakectl/internal/config"
	"flakectl/internal/display"
	"flakectl/internal/format"
	"flakectl/internal/ghfetch"
	"flakectl/internal/ledger"
	"flakectl/internal/merge"
	"flakectl/internal/report"
)

const (
	runsCSVName  = "failed_jobs.csv"
	progressName = "progress.md"
	fixesName    = "fixes.json"
)

func runsCSVPath(c config.Config) string  { return filepath.Join(c.OutputDir, runsCSVName) }
func progressPath(c config.Config) string { return filepath.Join(c.OutputDir, progressName) }
func fixesPath(c config.Config) string    { return filepath.Join(c.OutputDir, fixesName) }

// newGitHubClient builds the API client, with a usable message when the
// token is missing.
func newGitHubClient(c config.Config) (*ghfetch.Client, error) {
	if c.GithubToken == "" {
		return nil, fmt.Errorf("GitHub token not set\n\n"+
			"flakectl reads workflow runs and job logs through the GitHub API.\n"+
			"Create a token with actions:read scope and export it:\n"+
			"  export GITHUB_TOKEN=<your token>\n\n"+
			"Then re-run against %s.", c.Repo)
	}
	return ghfetch.New(c.Repo, c.GithubToken)
}

func requireAnthropicKey(c config.Config) error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("Anthropic API key not set\n\n" +
			"Classification needs an Anthropic API key:\n" +
			"  export ANTHROPIC_API_KEY=<your key>")
	}
	return nil
}

func lookback(c config.Config) time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

func nowUTC() time.Time { return time.Now().UTC() }

func noFailureFilters(c config.Config) report.Filters {
	return report.Filters{
		Repo:         c.Repo,
		Branch:       c.Branch,
		Workflow:     c.Workflow,
		LookbackDays: c.LookbackDays,
	}
}

func mergeOptions(c config.Config) merge.Options {
	return merge.Options{TieBreaksToReal: c.FlakeTieReal}
}

// loadLedger opens the invocation's progress.md, failing with a pointer at
// the command that creates it.
func loadLedger(c config.Config) (*ledger.Ledger, error) {
	path := progressPath(c)
	led, err := ledger.Load(path)
	if err != nil {
		return nil, fmt.Errorf("no ledger at %s (run 'flakectl fetch' then 'flakectl classify', or 'flakectl run'): %w", path, err)
	}
	return led, nil
}

// runTable renders fetched runs as an ASCII table for terminal output.
func runTable(runs []ghfetch.FailedRun) string {
	t := format.NewASCII()
	t.Header("Run ID", "Workflow", "Branch", "Started", "Failed Jobs")
	t.RightAlign(5)
	for _, run := range runs {
		t.Row(run.ID, run.Workflow, run.Branch, format.FmtDate(run.StartedAt), len(run.Jobs))
	}
	return t.String()
}

// taskTable renders ledger state as an ASCII table.
func taskTable(states []ledger.TaskState) string {
	t := format.NewASCII()
	t.Header("Run ID", "Status", "Reason")
	t.Limit(3, 60)
	for _, st := range states {
		t.Row(st.RunID, display.Status(string(st.Status)), st.Reason)
	}
	return t.String()
}
