// Package correlate attaches candidate fixes to merged categories by
// matching commit and PR text against each category's cause and test
// identifiers. The pass is best-effort and purely additive: it decorates
// an already-finalized category set and can only ever leave fix lists
// empty, never change a verdict or a count.
package correlate

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"flakectl/internal/classify"
	"flakectl/internal/ghfetch"
	"flakectl/internal/logging"
	"flakectl/internal/merge"
)

// Confidence qualifies one fix candidate.
type Confidence string

const (
	Confirmed Confidence = "confirmed"
	Possible  Confidence = "possible"
)

// Candidate is one commit or PR judged to plausibly address a category.
type Candidate struct {
	Type       string     `json:"type"` // "commit" or "pr"
	ID         string     `json:"id"`
	SHA        string     `json:"sha,omitempty"`
	URL        string     `json:"url"`
	Title      string     `json:"title"`
	Date       time.Time  `json:"date"`
	Confidence Confidence `json:"confidence"`
}

// CategoryFixes pairs one category name with its candidates, ordered
// best-first.
type CategoryFixes struct {
	Category string      `json:"category"`
	Items    []Candidate `json:"items"`
}

// HistorySearcher supplies the code/PR history to match against.
// *ghfetch.Client satisfies it.
type HistorySearcher interface {
	ListCommits(ctx context.Context, since time.Time) ([]ghfetch.Commit, error)
	ListOpenPRs(ctx context.Context) ([]ghfetch.PullRequest, error)
}

// Options tunes one correlation pass.
type Options struct {
	// Lookback bounds the commit history window. Zero means 30 days.
	Lookback time.Duration
	// MaxPerCategory caps candidates per category. Zero means 5.
	MaxPerCategory int
}

type Correlator struct {
	search HistorySearcher
	opts   Options
	log    *slog.Logger
}

func New(search HistorySearcher, opts Options) *Correlator {
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * 24 * time.Hour
	}
	if opts.MaxPerCategory < 1 {
		opts.MaxPerCategory = 5
	}
	return &Correlator{search: search, opts: opts, log: logging.New("correlate")}
}

// Run matches every category against recent history. History fetch errors
// are logged and swallowed: the result is then one empty fix list per
// category, never a process failure.
func (c *Correlator) Run(ctx context.Context, categories []merge.Category) []CategoryFixes {
	out := make([]CategoryFixes, 0, len(categories))
	for _, cat := range categories {
		out = append(out, CategoryFixes{Category: cat.Name, Items: []Candidate{}})
	}
	if len(categories) == 0 {
		return out
	}

	commits, err := c.search.ListCommits(ctx, time.Now().Add(-c.opts.Lookback))
	if err != nil {
		c.log.Warn("commit history unavailable, skipping fix correlation", "error", err)
		commits = nil
	}
	prs, err := c.search.ListOpenPRs(ctx)
	if err != nil {
		c.log.Warn("open PRs unavailable", "error", err)
		prs = nil
	}
	if len(commits) == 0 && len(prs) == 0 {
		return out
	}

	for i, cat := range categories {
		out[i].Items = c.match(cat, commits, prs)
		if n := len(out[i].Items); n > 0 {
			c.log.Info("fix candidates found", "category", cat.Name, "candidates", n)
		}
	}
	return out
}

// match scores each commit and PR against one category. Matching is a
// deterministic term-overlap rule, so correlation is reproducible.
func (c *Correlator) match(cat merge.Category, commits []ghfetch.Commit, prs []ghfetch.PullRequest) []Candidate {
	terms := queryTerms(cat)
	if len(terms.weak) == 0 && len(terms.strong) == 0 {
		return []Candidate{}
	}

	var items []Candidate
	for _, commit := range commits {
		if conf, ok := judge(commit.Subject, terms); ok {
			items = append(items, Candidate{
				Type:       "commit",
				ID:         shortSHA(commit.SHA),
				SHA:        commit.SHA,
				URL:        commit.URL,
				Title:      commit.Subject,
				Date:       commit.Date,
				Confidence: conf,
			})
		}
	}
	for _, pr := range prs {
		if conf, ok := judge(pr.Title, terms); ok {
			items = append(items, Candidate{
				Type:       "pr",
				ID:         "#" + strconv.Itoa(pr.Number),
				URL:        pr.URL,
				Title:      pr.Title,
				Date:       pr.CreatedAt,
				Confidence: conf,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence == Confirmed
		}
		return items[i].Date.After(items[j].Date)
	})
	if len(items) > c.opts.MaxPerCategory {
		items = items[:c.opts.MaxPerCategory]
	}
	if items == nil {
		items = []Candidate{}
	}
	return items
}

// terms holds the two tiers of match signals for one category. Any strong
// term in a title is a confirmed match on its own; weak terms need at
// least two hits.
type terms struct {
	strong []string
	weak   []string
}

func queryTerms(cat merge.Category) terms {
	var t terms
	for _, id := range cat.TestIDs {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			t.strong = append(t.strong, testName(id))
		}
	}
	_, cause, _ := classify.SplitKey(cat.Name)
	if cause != "" {
		t.strong = append(t.strong, strings.ToLower(cause))
		for _, w := range strings.Split(cause, "-") {
			if len(w) >= 4 {
				t.weak = append(t.weak, strings.ToLower(w))
			}
		}
	}
	return t
}

func judge(title string, t terms) (Confidence, bool) {
	lower := strings.ToLower(title)
	for _, s := range t.strong {
		if s != "" && strings.Contains(lower, s) {
			return Confirmed, true
		}
	}
	hits := 0
	for _, w := range t.weak {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	if hits >= 2 {
		return Possible, true
	}
	return "", false
}

// testName strips a path-qualified test identifier down to the bare test
// name, the part a fix commit is most likely to mention.
func testName(id string) string {
	if i := strings.LastIndex(id, "::"); i >= 0 {
		return id[i+2:]
	}
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
