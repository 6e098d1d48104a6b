// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI output, markdown reports, logs, and docs.
// Keep raw codes for JSON fields, map keys, and equality comparisons.
package display

import "strings"

// --- Category Kinds ---

var kinds = map[string]string{
	"test-flake":  "Test Flake",
	"infra-flake": "Infrastructure Flake",
	"bug":         "Product Bug",
	"build-error": "Build Error",
}

// Kind returns the human-readable name for a category kind slug.
// Unknown slugs are returned as-is.
func Kind(slug string) string {
	if name, ok := kinds[slug]; ok {
		return name
	}
	return slug
}

// --- Task Statuses ---

var statuses = map[string]string{
	"pending":     "Pending",
	"in_progress": "In Progress",
	"done":        "Done",
	"failed":      "Failed",
	"timed_out":   "Timed Out",
}

// Status returns the human-readable name for a ledger task status.
// "in_progress" -> "In Progress".
func Status(code string) string {
	if name, ok := statuses[code]; ok {
		return name
	}
	return code
}

// --- Category Keys ---

// CategoryKey humanizes a slash-delimited category key.
// "test-flake/timeout/eventloop" -> "Test Flake / timeout / eventloop"
func CategoryKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) > 0 {
		parts[0] = Kind(parts[0])
	}
	return strings.Join(parts, " / ")
}
