package format

import (
	"fmt"
	"time"
)

// Truncate shortens s to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// FmtDate renders a timestamp as a compact UTC date, the form used in
// category recency columns. Zero times render as "-".
func FmtDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

// FmtRatio renders "n of m" counts, e.g. "3 of 5".
func FmtRatio(n, m int) string {
	return fmt.Sprintf("%d of %d", n, m)
}

// Verdict renders a flake verdict the way report tables show it.
func Verdict(isFlake bool) string {
	if isFlake {
		return "yes"
	}
	return "no"
}
