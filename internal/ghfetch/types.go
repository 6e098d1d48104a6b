package ghfetch

import "time"

// FailedRun is one failed workflow run, with its failed jobs attached.
// Immutable once fetched; the ledger owns it for the rest of the invocation.
type FailedRun struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Workflow  string    `json:"workflow"`
	Branch    string    `json:"branch"`
	Event     string    `json:"event"`
	CommitSHA string    `json:"commit_sha"`
	StartedAt time.Time `json:"started_at"`
	Attempt   int       `json:"attempt"`
	Jobs      []FailedJob
}

// FailedJob is one failed job within a run. Logs are fetched lazily via
// Client.DownloadJobLog; only identifying metadata is held here.
type FailedJob struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FailureStep string    `json:"failure_step"`
	CompletedAt time.Time `json:"completed_at"`
}

// Commit is a candidate fix commit for the correlator.
type Commit struct {
	SHA     string    `json:"sha"`
	Subject string    `json:"subject"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	URL     string    `json:"url"`
}

// PullRequest is a candidate fix PR for the correlator.
type PullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
