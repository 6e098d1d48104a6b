// Package store archives finished analyses in SQLite, so category trends
// can be compared across invocations. The archive is write-once per
// analysis: one analyses row plus its categories and fix candidates,
// inserted in a single transaction.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"flakectl/internal/correlate"
	"flakectl/internal/merge"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// Archive is the SQLite-backed analysis history.
type Archive struct {
	db *sql.DB
}

// Open opens or creates the archive at path and runs migrations. The
// parent directory is created if missing.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error { return a.db.Close() }

func (a *Archive) migrate() error {
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	err := a.db.QueryRow("SELECT version FROM schema_version").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = a.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion)
		if err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("archive schema version %d, this build expects %d", version, schemaVersion)
	}
	return nil
}

// SaveAnalysis archives one finished analysis. Returns the analysis id.
func (a *Archive) SaveAnalysis(repo string, date time.Time, res merge.Result, fixes []correlate.CategoryFixes) (int64, error) {
	tx, err := a.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	t := res.Totals
	r, err := tx.Exec(
		`INSERT INTO analyses(repo, date, total_runs, flake_runs, real_failure_runs, unclear_runs, total_jobs, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		repo, date.UTC().Format("2006-01-02"),
		t.TotalRuns, t.FlakeRuns, t.RealFailureRuns, t.UnclearRuns,
		t.ClassifiedJobs+t.UnclassifiedJobs, nowUTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert analysis: %w", err)
	}
	analysisID, err := r.LastInsertId()
	if err != nil {
		return 0, err
	}

	fixesByName := make(map[string][]correlate.Candidate, len(fixes))
	for _, f := range fixes {
		fixesByName[f.Category] = f.Items
	}

	cats := res.Categories
	if res.Unclassified != nil {
		cats = append(append([]merge.Category(nil), cats...), *res.Unclassified)
	}
	for _, cat := range cats {
		testIDs, err := json.Marshal(cat.TestIDs)
		if err != nil {
			return 0, fmt.Errorf("marshal test ids: %w", err)
		}
		cr, err := tx.Exec(
			`INSERT INTO categories(analysis_id, name, is_flake, run_count, job_count, test_ids, last_seen, example_error, example_summary)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			analysisID, cat.Name, boolInt(cat.IsFlake), cat.RunCount, cat.JobCount,
			string(testIDs), cat.LastSeen.UTC().Format(time.RFC3339),
			cat.Representative.Excerpt, cat.Representative.Summary,
		)
		if err != nil {
			return 0, fmt.Errorf("insert category %s: %w", cat.Name, err)
		}
		catID, err := cr.LastInsertId()
		if err != nil {
			return 0, err
		}
		for _, item := range fixesByName[cat.Name] {
			_, err := tx.Exec(
				`INSERT INTO fix_candidates(category_id, type, ref, sha, url, title, date, confidence)
				 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
				catID, item.Type, item.ID, item.SHA, item.URL, item.Title,
				item.Date.UTC().Format(time.RFC3339), string(item.Confidence),
			)
			if err != nil {
				return 0, fmt.Errorf("insert fix for %s: %w", cat.Name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return analysisID, nil
}

// AnalysisSummary is one archived analysis header row.
type AnalysisSummary struct {
	ID              int64
	Repo            string
	Date            string
	TotalRuns       int
	FlakeRuns       int
	RealFailureRuns int
	UnclearRuns     int
	TotalJobs       int
}

// ListAnalyses returns archived analyses, newest first.
func (a *Archive) ListAnalyses(repo string) ([]AnalysisSummary, error) {
	rows, err := a.db.Query(
		`SELECT id, repo, date, total_runs, flake_runs, real_failure_runs, unclear_runs, total_jobs
		 FROM analyses WHERE repo = ? OR ? = '' ORDER BY id DESC`, repo, repo,
	)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()
	var out []AnalysisSummary
	for rows.Next() {
		var v AnalysisSummary
		if err := rows.Scan(&v.ID, &v.Repo, &v.Date, &v.TotalRuns, &v.FlakeRuns,
			&v.RealFailureRuns, &v.UnclearRuns, &v.TotalJobs); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Occurrence is one appearance of a category in an archived analysis.
type Occurrence struct {
	AnalysisID int64
	Date       string
	Name       string
	IsFlake    bool
	RunCount   int
	JobCount   int
}

// CategoryHistory returns every archived occurrence of a category name,
// newest first, for trend inspection.
func (a *Archive) CategoryHistory(name string) ([]Occurrence, error) {
	rows, err := a.db.Query(
		`SELECT c.analysis_id, a.date, c.name, c.is_flake, c.run_count, c.job_count
		 FROM categories c JOIN analyses a ON a.id = c.analysis_id
		 WHERE c.name = ? ORDER BY c.analysis_id DESC`, name,
	)
	if err != nil {
		return nil, fmt.Errorf("category history: %w", err)
	}
	defer rows.Close()
	var out []Occurrence
	for rows.Next() {
		var v Occurrence
		var isFlake int
		if err := rows.Scan(&v.AnalysisID, &v.Date, &v.Name, &isFlake, &v.RunCount, &v.JobCount); err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		v.IsFlake = isFlake != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// KnownCategoryNames returns the distinct category names ever archived for
// a repo, so fresh classification passes can be seeded with historical
// names.
func (a *Archive) KnownCategoryNames(repo string) ([]string, error) {
	rows, err := a.db.Query(
		`SELECT DISTINCT c.name FROM categories c JOIN analyses a ON a.id = c.analysis_id
		 WHERE (a.repo = ? OR ? = '') AND c.name != 'unclassified' ORDER BY c.name`, repo, repo,
	)
	if err != nil {
		return nil, fmt.Errorf("known categories: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
