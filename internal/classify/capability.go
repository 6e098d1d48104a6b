package classify

import (
	"context"
	"errors"

	"flakectl/internal/ghfetch"
)

// ErrTurnLimit is returned when a classification task exhausts its turn
// budget before producing a verdict. The scheduler treats it as a
// task-level failure, never a process-level one.
var ErrTurnLimit = errors.New("turn limit exceeded")

// Request carries everything a capability needs to classify one run.
type Request struct {
	Run ghfetch.FailedRun
	// Hints is operator-supplied repo context passed through verbatim.
	Hints string
	// KnownCategories lists base categories already proposed by sibling
	// tasks, so independent classifiers converge on shared names.
	KnownCategories []string
}

// Capability classifies the failed jobs of one run. Implementations must
// terminate within their turn budget (returning ErrTurnLimit) rather than
// run unbounded, and must be safe for concurrent use: the scheduler invokes
// one call per worker.
type Capability interface {
	Classify(ctx context.Context, req Request) (*Record, error)
}

// LogFetcher supplies raw job logs on demand. *ghfetch.Client satisfies it.
type LogFetcher interface {
	DownloadJobLog(ctx context.Context, jobID int64) (string, error)
}
