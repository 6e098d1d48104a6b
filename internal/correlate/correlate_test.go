package correlate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"flakectl/internal/ghfetch"
	"flakectl/internal/merge"
)

type fakeHistory struct {
	commits []ghfetch.Commit
	prs     []ghfetch.PullRequest
	err     error
}

func (f *fakeHistory) ListCommits(ctx context.Context, since time.Time) ([]ghfetch.Commit, error) {
	return f.commits, f.err
}

func (f *fakeHistory) ListOpenPRs(ctx context.Context) ([]ghfetch.PullRequest, error) {
	return f.prs, f.err
}

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestRun_ConfirmedByTestID(t *testing.T) {
	history := &fakeHistory{
		commits: []ghfetch.Commit{
			{SHA: "abcdef0123456789", Subject: "fix flaky test_update_timeout retry loop", Date: day(2), URL: "https://example.test/c/abc"},
			{SHA: "ffff000011112222", Subject: "bump dependency versions", Date: day(3)},
		},
	}
	cats := []merge.Category{{
		Name:    "test-flake/update-timeout",
		TestIDs: []string{"tests/test_sync.py::test_update_timeout"},
	}}

	fixes := New(history, Options{}).Run(context.Background(), cats)
	if len(fixes) != 1 || fixes[0].Category != "test-flake/update-timeout" {
		t.Fatalf("fixes = %+v", fixes)
	}
	if len(fixes[0].Items) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(fixes[0].Items), fixes[0].Items)
	}
	got := fixes[0].Items[0]
	if got.Type != "commit" || got.Confidence != Confirmed || got.SHA != "abcdef0123456789" {
		t.Errorf("candidate = %+v", got)
	}
	if got.ID != "abcdef012345" {
		t.Errorf("candidate ID = %q, want short sha", got.ID)
	}
}

func TestRun_PossibleByCauseWords(t *testing.T) {
	history := &fakeHistory{
		prs: []ghfetch.PullRequest{
			{Number: 42, Title: "Harden registry pull against transient errors", URL: "https://example.test/pr/42", CreatedAt: day(4)},
			{Number: 43, Title: "Unrelated docs change", CreatedAt: day(5)},
		},
	}
	cats := []merge.Category{{Name: "infra-flake/registry-pull-transient"}}

	fixes := New(history, Options{}).Run(context.Background(), cats)
	if len(fixes[0].Items) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(fixes[0].Items), fixes[0].Items)
	}
	got := fixes[0].Items[0]
	if got.Type != "pr" || got.ID != "#42" || got.Confidence != Possible {
		t.Errorf("candidate = %+v", got)
	}
}

func TestRun_HistoryUnavailableIsAdditive(t *testing.T) {
	history := &fakeHistory{err: errors.New("boom")}
	cats := []merge.Category{
		{Name: "bug/nil-deref", RunCount: 3, JobCount: 4},
	}
	fixes := New(history, Options{}).Run(context.Background(), cats)
	if len(fixes) != 1 {
		t.Fatalf("fixes = %+v, want one entry per category", fixes)
	}
	if len(fixes[0].Items) != 0 {
		t.Errorf("unreachable history must leave fix lists empty, got %+v", fixes[0].Items)
	}
	// The category set itself is untouched by construction; the entry
	// must still name the category so the report can render it.
	if fixes[0].Category != "bug/nil-deref" {
		t.Errorf("category = %q", fixes[0].Category)
	}
}

func TestRun_ConfirmedSortsFirst(t *testing.T) {
	history := &fakeHistory{
		commits: []ghfetch.Commit{
			{SHA: "1111111111111111", Subject: "rework update retry backoff handling", Date: day(9)},
			{SHA: "2222222222222222", Subject: "fix update-retry race", Date: day(1)},
		},
	}
	cats := []merge.Category{{Name: "test-flake/update-retry"}}
	fixes := New(history, Options{}).Run(context.Background(), cats)
	items := fixes[0].Items
	if len(items) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(items), items)
	}
	if items[0].Confidence != Confirmed || items[1].Confidence != Possible {
		t.Errorf("confirmed candidate should sort first: %+v", items)
	}
}

func TestWriteLoadFixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixes.json")
	fixes := []CategoryFixes{{
		Category: "test-flake/timeout",
		Items: []Candidate{{
			Type: "commit", ID: "abcdef012345", SHA: "abcdef0123456789",
			URL: "https://example.test/c/abc", Title: "fix timeout",
			Date: day(2), Confidence: Confirmed,
		}},
	}}
	if err := WriteFixes(path, fixes); err != nil {
		t.Fatalf("WriteFixes: %v", err)
	}
	got, err := LoadFixes(path)
	if err != nil {
		t.Fatalf("LoadFixes: %v", err)
	}
	if diff := cmp.Diff(fixes, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestLoadFixes_Missing(t *testing.T) {
	got, err := LoadFixes(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || got != nil {
		t.Errorf("missing file should yield (nil, nil), got (%v, %v)", got, err)
	}
}
