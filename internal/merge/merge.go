// Package merge folds per-run classification records into canonical
// root-cause categories.
//
// The fold is order-independent: grouping is the transitive closure of a
// pairwise equivalence relation (computed with a union-find), and every
// derived field is an order-insensitive aggregate with deterministic
// tie-breaks. Permuting the input records yields byte-identical output.
package merge

import (
	"sort"
	"time"

	"flakectl/internal/classify"
)

// UnclassifiedName is the reserved bucket for contributions whose category
// key has no recognized kind. It is counted in totals but never merged
// with a named category.
const UnclassifiedName = "unclassified"

// Options tunes the fold. The zero value matches the defaults.
type Options struct {
	// TieBreaksToReal flips the flake-verdict tie-break: by default a
	// category with equally many flake and non-flake votes is reported as
	// a flake, so disagreement never hides flake evidence. Teams that
	// would rather surface a possible bug set this.
	TieBreaksToReal bool
}

// RunRef identifies one contributing run.
type RunRef struct {
	RunID     int64
	RunURL    string
	Branch    string
	StartedAt time.Time
}

// Evidence is the representative description/excerpt pair of a category:
// the contribution with the longest non-empty excerpt, ties broken by the
// most recent run.
type Evidence struct {
	JobName string
	RunURL  string
	Summary string
	Excerpt string
}

// Category is one deduplicated root cause.
type Category struct {
	Name           string
	IsFlake        bool
	RunCount       int
	JobCount       int
	TestIDs        []string
	LastSeen       time.Time
	Representative Evidence
	Runs           []RunRef // contributing runs, most recent first
}

// Totals are the global aggregates derived from the fold, never tracked
// independently of it.
type Totals struct {
	TotalRuns int
	// FlakeRuns counts runs whose every classified job landed in a
	// flake-verdict category.
	FlakeRuns int
	// RealFailureRuns counts runs with at least one non-flake job; a mix
	// of flake and non-flake jobs counts here, never under FlakeRuns.
	RealFailureRuns int
	// UnclearRuns counts runs whose only non-flake contributions were
	// unclassifiable.
	UnclearRuns      int
	ClassifiedJobs   int
	UnclassifiedJobs int
}

// Result is the complete output of one fold.
type Result struct {
	Categories []Category // sorted by impact: jobs desc, runs desc, name asc
	// Unclassified holds the reserved bucket, nil when every contribution
	// had a recognized kind.
	Unclassified *Category
	Totals       Totals
}

// contribution is one (run, job classification) pair, the atom the fold
// operates on.
type contribution struct {
	run RunRef
	job classify.JobClassification
}

// Fold merges all records into canonical categories. Two contributions
// belong to the same category when their kinds match and either their
// cause slugs match exactly or their test identifier sets overlap.
func Fold(records []classify.Record, opts Options) Result {
	var classified, unclassified []contribution
	for _, rec := range records {
		run := RunRef{RunID: rec.RunID, RunURL: rec.RunURL, Branch: rec.Branch, StartedAt: rec.StartedAt}
		for _, job := range rec.Jobs {
			c := contribution{run: run, job: job}
			if classify.KindOf(job.Category) == "" {
				unclassified = append(unclassified, c)
			} else {
				classified = append(classified, c)
			}
		}
	}

	// Canonical processing order, so group synthesis below never depends
	// on input order.
	sortContributions(classified)
	sortContributions(unclassified)

	uf := newUnionFind(len(classified))
	byCause := make(map[string]int) // kind/cause -> first contribution index
	byTest := make(map[string]int)  // kind\x00test-id -> first contribution index
	for i, c := range classified {
		kind, cause, _ := classify.SplitKey(c.job.Category)
		if cause != "" {
			key := kind + "/" + cause
			if j, ok := byCause[key]; ok {
				uf.union(i, j)
			} else {
				byCause[key] = i
			}
		}
		for _, id := range c.job.TestIDs {
			key := kind + "\x00" + id
			if j, ok := byTest[key]; ok {
				uf.union(i, j)
			} else {
				byTest[key] = i
			}
		}
	}

	groups := make(map[int][]contribution)
	for i, c := range classified {
		root := uf.find(i)
		groups[root] = append(groups[root], c)
	}

	res := Result{}
	for _, group := range groups {
		res.Categories = append(res.Categories, synthesize(group, opts))
	}
	sort.Slice(res.Categories, func(i, j int) bool {
		a, b := res.Categories[i], res.Categories[j]
		if a.JobCount != b.JobCount {
			return a.JobCount > b.JobCount
		}
		if a.RunCount != b.RunCount {
			return a.RunCount > b.RunCount
		}
		return a.Name < b.Name
	})

	if len(unclassified) > 0 {
		bucket := synthesize(unclassified, opts)
		bucket.Name = UnclassifiedName
		bucket.IsFlake = false
		res.Unclassified = &bucket
	}

	res.Totals = totals(res.Categories, res.Unclassified)
	return res
}

// synthesize builds one Category from an equivalence group. The group is
// already in canonical order.
func synthesize(group []contribution, opts Options) Category {
	nameVotes := make(map[string]int)
	flakeVotes, realVotes := 0, 0
	runs := make(map[int64]RunRef)
	jobs := make(map[int64]map[int64]bool)
	testIDs := make(map[string]bool)
	var last time.Time
	var rep *contribution

	for i := range group {
		c := group[i]
		nameVotes[classify.BaseKey(c.job.Category)]++
		if c.job.IsFlake {
			flakeVotes++
		} else {
			realVotes++
		}
		runs[c.run.RunID] = c.run
		if jobs[c.run.RunID] == nil {
			jobs[c.run.RunID] = make(map[int64]bool)
		}
		jobs[c.run.RunID][c.job.JobID] = true
		for _, id := range c.job.TestIDs {
			testIDs[id] = true
		}
		if c.run.StartedAt.After(last) {
			last = c.run.StartedAt
		}
		if betterEvidence(&group[i], rep) {
			rep = &group[i]
		}
	}

	cat := Category{
		Name:     pluralityName(nameVotes),
		IsFlake:  flakeVotes > realVotes || (flakeVotes == realVotes && !opts.TieBreaksToReal),
		RunCount: len(runs),
		LastSeen: last,
	}
	for _, perRun := range jobs {
		cat.JobCount += len(perRun)
	}
	for id := range testIDs {
		cat.TestIDs = append(cat.TestIDs, id)
	}
	sort.Strings(cat.TestIDs)
	for _, r := range runs {
		cat.Runs = append(cat.Runs, r)
	}
	sort.Slice(cat.Runs, func(i, j int) bool {
		if !cat.Runs[i].StartedAt.Equal(cat.Runs[j].StartedAt) {
			return cat.Runs[i].StartedAt.After(cat.Runs[j].StartedAt)
		}
		return cat.Runs[i].RunID > cat.Runs[j].RunID
	})
	if rep != nil {
		cat.Representative = Evidence{
			JobName: rep.job.JobName,
			RunURL:  rep.run.RunURL,
			Summary: rep.job.Summary,
			Excerpt: rep.job.ErrorMessage,
		}
	}
	return cat
}

// betterEvidence reports whether a beats the current representative:
// longer excerpt wins, then more recent run. Works with the canonical
// contribution order for full determinism.
func betterEvidence(a, cur *contribution) bool {
	if cur == nil {
		return true
	}
	if len(a.job.ErrorMessage) != len(cur.job.ErrorMessage) {
		return len(a.job.ErrorMessage) > len(cur.job.ErrorMessage)
	}
	return a.run.StartedAt.After(cur.run.StartedAt)
}

// pluralityName picks the most voted base key, ties broken by the
// lexicographically smallest.
func pluralityName(votes map[string]int) string {
	best, bestVotes := "", -1
	for name, n := range votes {
		if n > bestVotes || (n == bestVotes && name < best) {
			best, bestVotes = name, n
		}
	}
	return best
}

func totals(categories []Category, unclassified *Category) Totals {
	t := Totals{}
	flakeRuns := make(map[int64]bool)
	realRuns := make(map[int64]bool)
	unclearRuns := make(map[int64]bool)
	allRuns := make(map[int64]bool)

	for _, cat := range categories {
		t.ClassifiedJobs += cat.JobCount
		for _, r := range cat.Runs {
			allRuns[r.RunID] = true
			if cat.IsFlake {
				flakeRuns[r.RunID] = true
			} else {
				realRuns[r.RunID] = true
			}
		}
	}
	if unclassified != nil {
		t.UnclassifiedJobs = unclassified.JobCount
		for _, r := range unclassified.Runs {
			allRuns[r.RunID] = true
			unclearRuns[r.RunID] = true
		}
	}

	t.TotalRuns = len(allRuns)
	for id := range allRuns {
		switch {
		case realRuns[id]:
			t.RealFailureRuns++
		case unclearRuns[id]:
			t.UnclearRuns++
		case flakeRuns[id]:
			t.FlakeRuns++
		}
	}
	return t
}

func sortContributions(cs []contribution) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].run.RunID != cs[j].run.RunID {
			return cs[i].run.RunID < cs[j].run.RunID
		}
		if cs[i].job.JobID != cs[j].job.JobID {
			return cs[i].job.JobID < cs[j].job.JobID
		}
		return cs[i].job.Category < cs[j].job.Category
	})
}

// unionFind is a plain union-find with path compression, small enough to
// keep local.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	if ri != rj {
		// Smaller root wins, so the partition is stable under canonical
		// contribution order.
		if ri < rj {
			uf.parent[rj] = ri
		} else {
			uf.parent[ri] = rj
		}
	}
}
