package classify

import (
	"strings"
	"time"
)

// Category kind prefixes. Free-form keys proposed by classifier tasks must
// start with one of these to be mergeable; anything else lands in the
// unclassified bucket.
var ValidKinds = []string{"test-flake", "infra-flake", "bug", "build-error"}

// JobClassification is the verdict for one failed job: a hierarchical
// category key plus the evidence that backs it.
type JobClassification struct {
	JobName      string   `json:"job_name"`
	JobID        int64    `json:"job_id"`
	Category     string   `json:"category"` // e.g. test-flake/update-timeout/12345
	IsFlake      bool     `json:"is_flake"`
	TestIDs      []string `json:"test_ids,omitempty"`
	FailedTest   string   `json:"failed_test,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Summary      string   `json:"summary,omitempty"`
}

// Record is the output of one completed classification task: one
// JobClassification per failed job of the run.
type Record struct {
	RunID     int64               `json:"run_id"`
	RunURL    string              `json:"run_url"`
	Branch    string              `json:"branch"`
	StartedAt time.Time           `json:"run_started_at"`
	Jobs      []JobClassification `json:"jobs"`
}

// SplitKey splits a category key into kind, cause slug and optional
// subcategory (usually a test identifier). A full key has two or three
// /-separated segments; extra segments fold into the subcategory.
//
//	test-flake/timeout/12345 -> ("test-flake", "timeout", "12345")
//	infra-flake/registry-502 -> ("infra-flake", "registry-502", "")
func SplitKey(key string) (kind, cause, sub string) {
	parts := strings.SplitN(strings.TrimSpace(key), "/", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	case 1:
		return parts[0], "", ""
	default:
		return "", "", ""
	}
}

// KindOf returns the kind segment of a key if it is one of ValidKinds,
// else "".
func KindOf(key string) string {
	kind, _, _ := SplitKey(key)
	for _, k := range ValidKinds {
		if kind == k {
			return k
		}
	}
	return ""
}

// ValidCategory reports whether a key has a recognized kind and a
// non-empty cause slug.
func ValidCategory(key string) bool {
	_, cause, _ := SplitKey(key)
	return KindOf(key) != "" && cause != ""
}

// BaseKey returns the first two segments of a key (kind/cause), the part
// categories are named by after merging. Returns the input unchanged when
// there is no cause segment.
func BaseKey(key string) string {
	kind, cause, _ := SplitKey(key)
	if cause == "" {
		return kind
	}
	return kind + "/" + cause
}
