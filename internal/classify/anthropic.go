package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"flakectl/internal/ghfetch"
	"flakectl/internal/logging"
)

const (
	defaultModel       = "claude-sonnet-4-5-20250929"
	defaultTurnBudget  = 8
	defaultMaxLogBytes = 64 << 10
	maxOutputTokens    = 4096
)

// AgentOptions tunes one Agent. Zero values pick the defaults above.
type AgentOptions struct {
	Model       string
	TurnBudget  int
	MaxLogBytes int
}

// Agent classifies runs by driving an Anthropic tool-use conversation.
// The model inspects job logs through the download_log tool and answers
// with a JSON verdict; the conversation is bounded by the turn budget.
type Agent struct {
	client anthropic.Client
	logs   LogFetcher
	opts   AgentOptions
	log    *slog.Logger
}

func NewAgent(apiKey string, logs LogFetcher, opts AgentOptions) *Agent {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.TurnBudget < 1 {
		opts.TurnBudget = defaultTurnBudget
	}
	if opts.MaxLogBytes < 1 {
		opts.MaxLogBytes = defaultMaxLogBytes
	}
	return &Agent{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logs:   logs,
		opts:   opts,
		log:    logging.New("classify"),
	}
}

func (a *Agent) Classify(ctx context.Context, req Request) (*Record, error) {
	system := []anthropic.TextBlockParam{
		{Text: buildSystemPrompt(req), CacheControl: anthropic.NewCacheControlEphemeralParam()},
	}
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserPrompt(req.Run))),
	}

	for turn := 1; turn <= a.opts.TurnBudget; turn++ {
		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.opts.Model),
			MaxTokens: maxOutputTokens,
			System:    system,
			Messages:  messages,
			Tools:     agentTools(),
		})
		if err != nil {
			return nil, fmt.Errorf("run %d turn %d: %w", req.Run.ID, turn, err)
		}
		a.log.Debug("model turn",
			"run", req.Run.ID,
			"turn", turn,
			"stop_reason", msg.StopReason,
			"tokens_in", msg.Usage.InputTokens,
			"tokens_out", msg.Usage.OutputTokens)

		if msg.StopReason == anthropic.StopReasonToolUse {
			messages = append(messages, msg.ToParam())
			messages = append(messages, anthropic.NewUserMessage(a.runTools(ctx, req.Run, msg)...))
			continue
		}

		text := firstText(msg)
		if text == "" {
			return nil, fmt.Errorf("run %d: empty model response", req.Run.ID)
		}
		rec, err := ParseVerdict(text, req.Run)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", req.Run.ID, err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("run %d after %d turns: %w", req.Run.ID, a.opts.TurnBudget, ErrTurnLimit)
}

func agentTools() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{{
		OfTool: &anthropic.ToolParam{
			Name:        "download_log",
			Description: anthropic.String("Download the log of one failed job of the run under analysis. Returns the log tail."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"job_id": map[string]any{
						"type":        "integer",
						"description": "ID of the job, from the failed jobs list",
					},
				},
				Required: []string{"job_id"},
			},
		},
	}}
}

func (a *Agent) runTools(ctx context.Context, run ghfetch.FailedRun, msg *anthropic.Message) []anthropic.ContentBlockParamUnion {
	var results []anthropic.ContentBlockParamUnion
	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		out, toolErr := a.runTool(ctx, run, block.Name, block)
		if toolErr != nil {
			a.log.Warn("tool failed", "run", run.ID, "tool", block.Name, "error", toolErr)
			results = append(results, anthropic.NewToolResultBlock(block.ID, toolErr.Error(), true))
			continue
		}
		results = append(results, anthropic.NewToolResultBlock(block.ID, out, false))
	}
	return results
}

func (a *Agent) runTool(ctx context.Context, run ghfetch.FailedRun, name string, block anthropic.ContentBlockUnion) (string, error) {
	if name != "download_log" {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	raw, err := json.Marshal(block.Input)
	if err != nil {
		return "", fmt.Errorf("reading tool input: %w", err)
	}
	var input struct {
		JobID int64 `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return "", fmt.Errorf("parsing tool input: %w", err)
	}
	if !runHasJob(run, input.JobID) {
		return "", fmt.Errorf("job %d is not a failed job of run %d", input.JobID, run.ID)
	}
	text, err := a.logs.DownloadJobLog(ctx, input.JobID)
	if err != nil {
		return "", fmt.Errorf("downloading log for job %d: %w", input.JobID, err)
	}
	return Tail(text, a.opts.MaxLogBytes), nil
}

func runHasJob(run ghfetch.FailedRun, jobID int64) bool {
	for _, job := range run.Jobs {
		if job.ID == jobID {
			return true
		}
	}
	return false
}

// Tail keeps the last limit bytes of a log, cutting at a line boundary.
// Failures show up at the end of CI logs, so the tail is the useful part.
func Tail(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[len(text)-limit:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i < len(cut)-1 {
		cut = cut[i+1:]
	}
	return "...(log truncated)...\n" + cut
}

func firstText(msg *anthropic.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

type verdictJob struct {
	JobName      string   `json:"job_name"`
	JobID        int64    `json:"job_id"`
	Category     string   `json:"category"`
	IsFlake      bool     `json:"is_flake"`
	TestIDs      []string `json:"test_ids"`
	FailedTest   string   `json:"failed_test"`
	ErrorMessage string   `json:"error_message"`
	Summary      string   `json:"summary"`
}

type verdict struct {
	Jobs []verdictJob `json:"jobs"`
}

// ParseVerdict turns the model's final JSON answer into a Record and
// validates it covers every failed job with a well-formed category.
func ParseVerdict(text string, run ghfetch.FailedRun) (*Record, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		truncated := text
		if len(truncated) > 512 {
			truncated = truncated[:512] + "..."
		}
		return nil, fmt.Errorf("parsing verdict: %w (response: %s)", err, truncated)
	}

	byID := make(map[int64]verdictJob, len(v.Jobs))
	for _, j := range v.Jobs {
		if !ValidCategory(j.Category) {
			return nil, fmt.Errorf("verdict for job %d has invalid category %q", j.JobID, j.Category)
		}
		byID[j.JobID] = j
	}

	rec := &Record{
		RunID:     run.ID,
		RunURL:    run.URL,
		Branch:    run.Branch,
		StartedAt: run.StartedAt,
	}
	for _, job := range run.Jobs {
		j, ok := byID[job.ID]
		if !ok {
			return nil, fmt.Errorf("verdict does not cover job %d (%s)", job.ID, job.Name)
		}
		rec.Jobs = append(rec.Jobs, JobClassification{
			JobName:      job.Name,
			JobID:        job.ID,
			Category:     j.Category,
			IsFlake:      j.IsFlake,
			TestIDs:      j.TestIDs,
			FailedTest:   j.FailedTest,
			ErrorMessage: j.ErrorMessage,
			Summary:      j.Summary,
		})
	}
	return rec, nil
}
