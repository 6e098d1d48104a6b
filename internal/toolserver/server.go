// Package toolserver exposes the classification ledger over MCP so an
// external agent (an IDE-hosted model, for instance) can work the pending
// tasks instead of the built-in Anthropic agent: claim a task, pull job
// logs and repo history, and submit a verdict that lands in the ledger
// exactly as the scheduler would record it.
package toolserver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"flakectl/internal/classify"
	"flakectl/internal/ghfetch"
	"flakectl/internal/ledger"
	"flakectl/internal/logging"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultLogBytes = 64 << 10

// HistorySearcher is the slice of the GitHub client the fix-search tools
// need. *ghfetch.Client satisfies it.
type HistorySearcher interface {
	ListCommits(ctx context.Context, since time.Time) ([]ghfetch.Commit, error)
	ListOpenPRs(ctx context.Context) ([]ghfetch.PullRequest, error)
}

// Server wraps the MCP SDK server around one ledger. All ledger mutations
// go through s.mu; the ledger itself expects a single mutating goroutine
// and MCP handlers may run concurrently.
type Server struct {
	MCPServer *sdkmcp.Server

	mu      sync.Mutex
	led     *ledger.Ledger
	logs    classify.LogFetcher
	history HistorySearcher
}

// NewServer creates an MCP server over the given ledger. logs and history
// may be nil when running offline; the corresponding tools then return
// errors instead of data.
func NewServer(led *ledger.Ledger, logs classify.LogFetcher, history HistorySearcher) *Server {
	s := &Server{led: led, logs: logs, history: history}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "flakectl", Version: "dev"},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_tasks",
		Description: "List all classification tasks in the ledger with their current status.",
	}, s.handleListTasks)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "claim_task",
		Description: "Claim the next pending task. Marks it in_progress and returns the failed run with its jobs.",
	}, s.handleClaimTask)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_task",
		Description: "Get one task by run ID, including the failed jobs to classify.",
	}, s.handleGetTask)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "download_log",
		Description: "Download the tail of a failed job's log. The job must belong to a ledger task.",
	}, s.handleDownloadLog)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "submit_classification",
		Description: "Submit the verdict JSON for a claimed task. Writes the output slot and marks the task done.",
	}, s.handleSubmitClassification)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "fail_task",
		Description: "Give up on a claimed task, recording the reason in the ledger.",
	}, s.handleFailTask)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "search_commits",
		Description: "List recent default-branch commits, newest first, for fix correlation.",
	}, s.handleSearchCommits)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "search_prs",
		Description: "List open pull requests for fix correlation.",
	}, s.handleSearchPRs)
}

// --- Tool input/output types ---

type taskSummary struct {
	RunID  int64  `json:"run_id"`
	RunURL string `json:"run_url"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type listTasksInput struct {
	Status string `json:"status,omitempty" jsonschema:"filter by status (pending, in_progress, done, failed, timed_out)"`
}

type listTasksOutput struct {
	Tasks []taskSummary `json:"tasks"`
	Total int           `json:"total"`
}

type jobDetail struct {
	JobID       int64  `json:"job_id"`
	Name        string `json:"name"`
	FailureStep string `json:"failure_step,omitempty"`
}

type taskDetail struct {
	RunID           int64       `json:"run_id"`
	RunURL          string      `json:"run_url"`
	Workflow        string      `json:"workflow"`
	Branch          string      `json:"branch"`
	CommitSHA       string      `json:"commit_sha"`
	StartedAt       string      `json:"started_at"`
	Jobs            []jobDetail `json:"jobs"`
	KnownCategories []string    `json:"known_categories,omitempty"`
}

type claimTaskInput struct {
	// No parameters; the server picks the next pending task.
}

type claimTaskOutput struct {
	Done bool        `json:"done"`
	Task *taskDetail `json:"task,omitempty"`
}

type getTaskInput struct {
	RunID int64 `json:"run_id" jsonschema:"workflow run ID from list_tasks"`
}

type getTaskOutput struct {
	Task   taskDetail `json:"task"`
	Status string     `json:"status"`
}

type downloadLogInput struct {
	RunID    int64 `json:"run_id" jsonschema:"workflow run ID the job belongs to"`
	JobID    int64 `json:"job_id" jsonschema:"failed job ID from the task's job list"`
	MaxBytes int   `json:"max_bytes,omitempty" jsonschema:"log tail size in bytes (default 65536)"`
}

type downloadLogOutput struct {
	Log string `json:"log"`
}

type submitClassificationInput struct {
	RunID       int64  `json:"run_id" jsonschema:"workflow run ID being classified"`
	VerdictJSON string `json:"verdict_json" jsonschema:"verdict JSON covering every failed job of the run"`
}

type submitClassificationOutput struct {
	OK         string   `json:"ok"`
	OutputRef  string   `json:"output_ref"`
	Categories []string `json:"categories"`
}

type failTaskInput struct {
	RunID  int64  `json:"run_id" jsonschema:"workflow run ID to give up on"`
	Reason string `json:"reason" jsonschema:"why classification was not possible"`
}

type failTaskOutput struct {
	OK string `json:"ok"`
}

type searchCommitsInput struct {
	LookbackDays int `json:"lookback_days,omitempty" jsonschema:"how many days of history to return (default 30)"`
}

type searchCommitsOutput struct {
	Commits []ghfetch.Commit `json:"commits"`
}

type searchPRsInput struct {
	// No parameters; returns all open pull requests.
}

type searchPRsOutput struct {
	PullRequests []ghfetch.PullRequest `json:"pull_requests"`
}

// --- Tool handlers ---

func (s *Server) handleListTasks(ctx context.Context, _ *sdkmcp.CallToolRequest, input listTasksInput) (*sdkmcp.CallToolResult, listTasksOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := listTasksOutput{Tasks: []taskSummary{}}
	for _, st := range s.led.Snapshot() {
		if input.Status != "" && string(st.Status) != input.Status {
			continue
		}
		out.Tasks = append(out.Tasks, taskSummary{
			RunID:  st.RunID,
			RunURL: st.RunURL,
			Status: string(st.Status),
			Reason: st.Reason,
		})
	}
	out.Total = len(out.Tasks)
	return nil, out, nil
}

func (s *Server) handleClaimTask(ctx context.Context, _ *sdkmcp.CallToolRequest, _ claimTaskInput) (*sdkmcp.CallToolResult, claimTaskOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.led.Pending()
	if len(pending) == 0 {
		return nil, claimTaskOutput{Done: true}, nil
	}
	t := pending[0]
	if err := s.led.MarkInProgress(t.Run.ID); err != nil {
		return nil, claimTaskOutput{}, fmt.Errorf("claim task: %w", err)
	}
	logging.New("toolserver").Info("task claimed", "run_id", t.Run.ID)

	detail := s.detailLocked(t)
	return nil, claimTaskOutput{Task: &detail}, nil
}

func (s *Server) handleGetTask(ctx context.Context, _ *sdkmcp.CallToolRequest, input getTaskInput) (*sdkmcp.CallToolResult, getTaskOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.taskLocked(input.RunID)
	if err != nil {
		return nil, getTaskOutput{}, err
	}
	return nil, getTaskOutput{Task: s.detailLocked(t), Status: string(t.Status)}, nil
}

func (s *Server) handleDownloadLog(ctx context.Context, _ *sdkmcp.CallToolRequest, input downloadLogInput) (*sdkmcp.CallToolResult, downloadLogOutput, error) {
	if s.logs == nil {
		return nil, downloadLogOutput{}, fmt.Errorf("log download is not available (no GitHub client)")
	}

	s.mu.Lock()
	t, err := s.taskLocked(input.RunID)
	s.mu.Unlock()
	if err != nil {
		return nil, downloadLogOutput{}, err
	}

	var found bool
	for _, job := range t.Run.Jobs {
		if job.ID == input.JobID {
			found = true
			break
		}
	}
	if !found {
		return nil, downloadLogOutput{}, fmt.Errorf("job %d is not a failed job of run %d", input.JobID, input.RunID)
	}

	text, err := s.logs.DownloadJobLog(ctx, input.JobID)
	if err != nil {
		return nil, downloadLogOutput{}, fmt.Errorf("download log: %w", err)
	}
	limit := input.MaxBytes
	if limit <= 0 {
		limit = defaultLogBytes
	}
	return nil, downloadLogOutput{Log: classify.Tail(text, limit)}, nil
}

func (s *Server) handleSubmitClassification(ctx context.Context, _ *sdkmcp.CallToolRequest, input submitClassificationInput) (*sdkmcp.CallToolResult, submitClassificationOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.taskLocked(input.RunID)
	if err != nil {
		return nil, submitClassificationOutput{}, err
	}
	if t.Status != ledger.StatusInProgress {
		return nil, submitClassificationOutput{}, fmt.Errorf("run %d is %s, claim it first", input.RunID, t.Status)
	}

	rec, err := classify.ParseVerdict(input.VerdictJSON, t.Run)
	if err != nil {
		return nil, submitClassificationOutput{}, fmt.Errorf("submit_classification: %w", err)
	}

	if err := ledger.WriteSlot(s.led.SlotPath(t.Run.ID), t.Run, rec); err != nil {
		return nil, submitClassificationOutput{}, err
	}
	ref := s.led.SlotRef(t.Run.ID)
	if err := s.led.MarkDone(t.Run.ID, ref, rec); err != nil {
		return nil, submitClassificationOutput{}, err
	}

	var cats []string
	seen := make(map[string]bool)
	for _, j := range rec.Jobs {
		key := classify.BaseKey(j.Category)
		if !seen[key] {
			seen[key] = true
			cats = append(cats, key)
		}
	}
	sort.Strings(cats)

	logging.New("toolserver").Info("classification accepted",
		"run_id", t.Run.ID, "categories", len(cats))
	return nil, submitClassificationOutput{
		OK:         "classification accepted",
		OutputRef:  ref,
		Categories: cats,
	}, nil
}

func (s *Server) handleFailTask(ctx context.Context, _ *sdkmcp.CallToolRequest, input failTaskInput) (*sdkmcp.CallToolResult, failTaskOutput, error) {
	if input.Reason == "" {
		return nil, failTaskOutput{}, fmt.Errorf("reason is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.taskLocked(input.RunID)
	if err != nil {
		return nil, failTaskOutput{}, err
	}
	if t.Status != ledger.StatusInProgress {
		return nil, failTaskOutput{}, fmt.Errorf("run %d is %s, claim it first", input.RunID, t.Status)
	}
	if err := s.led.MarkFailed(input.RunID, input.Reason); err != nil {
		return nil, failTaskOutput{}, err
	}
	return nil, failTaskOutput{OK: "task marked failed"}, nil
}

func (s *Server) handleSearchCommits(ctx context.Context, _ *sdkmcp.CallToolRequest, input searchCommitsInput) (*sdkmcp.CallToolResult, searchCommitsOutput, error) {
	if s.history == nil {
		return nil, searchCommitsOutput{}, fmt.Errorf("history search is not available (no GitHub client)")
	}
	days := input.LookbackDays
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	commits, err := s.history.ListCommits(ctx, since)
	if err != nil {
		return nil, searchCommitsOutput{}, fmt.Errorf("search_commits: %w", err)
	}
	return nil, searchCommitsOutput{Commits: commits}, nil
}

func (s *Server) handleSearchPRs(ctx context.Context, _ *sdkmcp.CallToolRequest, _ searchPRsInput) (*sdkmcp.CallToolResult, searchPRsOutput, error) {
	if s.history == nil {
		return nil, searchPRsOutput{}, fmt.Errorf("history search is not available (no GitHub client)")
	}
	prs, err := s.history.ListOpenPRs(ctx)
	if err != nil {
		return nil, searchPRsOutput{}, fmt.Errorf("search_prs: %w", err)
	}
	return nil, searchPRsOutput{PullRequests: prs}, nil
}

func (s *Server) taskLocked(runID int64) (*ledger.Task, error) {
	for _, t := range s.led.Tasks() {
		if t.Run.ID == runID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unknown run %d", runID)
}

func (s *Server) detailLocked(t *ledger.Task) taskDetail {
	d := taskDetail{
		RunID:           t.Run.ID,
		RunURL:          t.Run.URL,
		Workflow:        t.Run.Workflow,
		Branch:          t.Run.Branch,
		CommitSHA:       t.Run.CommitSHA,
		StartedAt:       t.Run.StartedAt.UTC().Format(time.RFC3339),
		KnownCategories: s.knownLocked(),
	}
	for _, job := range t.Run.Jobs {
		d.Jobs = append(d.Jobs, jobDetail{
			JobID:       job.ID,
			Name:        job.Name,
			FailureStep: job.FailureStep,
		})
	}
	return d
}

// knownLocked collects the base category keys already recorded in done
// tasks, so an agent can reuse names instead of inventing near-duplicates.
func (s *Server) knownLocked() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range s.led.Records() {
		for _, j := range rec.Jobs {
			key := classify.BaseKey(j.Category)
			if !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return out
}
