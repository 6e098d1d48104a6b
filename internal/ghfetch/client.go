package ghfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"

// Client is a GitHub Actions API client. All operations are read-only
// snapshots: calling them twice with the same arguments yields the same
// data modulo upstream changes, and nothing on the GitHub side is mutated.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Repo       string // "owner/name"
	Token      string
}

// New returns a client for the given repo slug. The token is read from
// GITHUB_TOKEN or GH_TOKEN when not supplied.
func New(repo, token string) (*Client, error) {
	if err := validateRepo(repo); err != nil {
		return nil, err
	}
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		token = os.Getenv("GH_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("github token not found: set GITHUB_TOKEN or GH_TOKEN")
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		BaseURL:    defaultBaseURL,
		Repo:       repo,
		Token:      token,
	}, nil
}

func validateRepo(repo string) error {
	if repo == "" || strings.Count(repo, "/") != 1 {
		return fmt.Errorf("invalid repo %q: expected owner/name", repo)
	}
	return nil
}

// API response shapes, trimmed to the fields the pipeline needs.
type ghRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	HTMLURL    string    `json:"html_url"`
	HeadBranch string    `json:"head_branch"`
	Event      string    `json:"event"`
	HeadSHA    string    `json:"head_sha"`
	CreatedAt  time.Time `json:"created_at"`
	RunAttempt int       `json:"run_attempt"`
}

type ghRunsPage struct {
	TotalCount   int     `json:"total_count"`
	WorkflowRuns []ghRun `json:"workflow_runs"`
}

type ghStep struct {
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"`
	Number     int    `json:"number"`
}

type ghJob struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Conclusion  string    `json:"conclusion"`
	CompletedAt time.Time `json:"completed_at"`
	Steps       []ghStep  `json:"steps"`
}

type ghJobsPage struct {
	TotalCount int     `json:"total_count"`
	Jobs       []ghJob `json:"jobs"`
}

// ListFailedRuns fetches failed workflow runs across the given workflow and
// branch filters, deduplicated by run ID and sorted newest first. Empty
// filter slices mean "all". Runs older than since are dropped. Jobs are not
// populated; call ListFailedJobs per run.
func (c *Client) ListFailedRuns(ctx context.Context, workflows, branches []string, since time.Time) ([]FailedRun, error) {
	wfList := workflows
	if len(wfList) == 0 {
		wfList = []string{""}
	}
	brList := branches
	if len(brList) == 0 {
		brList = []string{""}
	}

	seen := make(map[int64]bool)
	var out []FailedRun
	for _, wf := range wfList {
		for _, br := range brList {
			runs, err := c.listFailedRuns(ctx, wf, br)
			if err != nil {
				name := func(s string) string {
					if s == "" {
						return "*"
					}
					return s
				}
				return nil, fmt.Errorf("list failed runs (workflow=%s, branch=%s): %w", name(wf), name(br), err)
			}
			for _, r := range runs {
				if seen[r.ID] || r.CreatedAt.Before(since) {
					continue
				}
				seen[r.ID] = true
				out = append(out, FailedRun{
					ID:        r.ID,
					URL:       r.HTMLURL,
					Workflow:  r.Name,
					Branch:    r.HeadBranch,
					Event:     r.Event,
					CommitSHA: r.HeadSHA,
					StartedAt: r.CreatedAt,
					Attempt:   r.RunAttempt,
				})
			}
		}
	}

	sortRunsByDateDesc(out)
	return out, nil
}

func (c *Client) listFailedRuns(ctx context.Context, workflow, branch string) ([]ghRun, error) {
	base := fmt.Sprintf("%s/repos/%s/actions/runs", c.BaseURL, c.Repo)
	if workflow != "" {
		if !strings.HasSuffix(workflow, ".yml") && !strings.HasSuffix(workflow, ".yaml") {
			return nil, fmt.Errorf("workflow must be a filename ending in .yml or .yaml: %q", workflow)
		}
		base = fmt.Sprintf("%s/repos/%s/actions/workflows/%s/runs", c.BaseURL, c.Repo, url.PathEscape(workflow))
	}

	var all []ghRun
	const pageSize = 100
	const maxRuns = 200
	for page := 1; len(all) < maxRuns; page++ {
		q := url.Values{}
		q.Set("status", "failure")
		q.Set("per_page", fmt.Sprint(pageSize))
		q.Set("page", fmt.Sprint(page))
		if branch != "" {
			q.Set("branch", branch)
		}
		var pageData ghRunsPage
		if err := c.getJSON(ctx, base+"?"+q.Encode(), &pageData); err != nil {
			return nil, err
		}
		all = append(all, pageData.WorkflowRuns...)
		if len(pageData.WorkflowRuns) < pageSize {
			break
		}
	}
	if len(all) > maxRuns {
		all = all[:maxRuns]
	}
	return all, nil
}

// ListFailedJobs fetches the failed jobs of a run, with the first failed
// step name extracted from each job's step list.
func (c *Client) ListFailedJobs(ctx context.Context, runID int64) ([]FailedJob, error) {
	var all []ghJob
	const pageSize = 100
	for page := 1; ; page++ {
		u := fmt.Sprintf("%s/repos/%s/actions/runs/%d/jobs?per_page=%d&page=%d",
			c.BaseURL, c.Repo, runID, pageSize, page)
		var pageData ghJobsPage
		if err := c.getJSON(ctx, u, &pageData); err != nil {
			return nil, fmt.Errorf("list jobs for run %d: %w", runID, err)
		}
		all = append(all, pageData.Jobs...)
		if len(pageData.Jobs) < pageSize {
			break
		}
	}

	var out []FailedJob
	for _, j := range all {
		if j.Conclusion != "failure" {
			continue
		}
		out = append(out, FailedJob{
			ID:          j.ID,
			Name:        j.Name,
			FailureStep: firstFailedStep(j.Steps),
			CompletedAt: j.CompletedAt,
		})
	}
	return out, nil
}

func firstFailedStep(steps []ghStep) string {
	for _, s := range steps {
		if s.Conclusion == "failure" {
			return s.Name
		}
	}
	return ""
}

// DownloadJobLog fetches the full log text for a job. The API answers with
// a 302 to blob storage; the default client follows it.
func (c *Client) DownloadJobLog(ctx context.Context, jobID int64) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/actions/jobs/%d/logs", c.BaseURL, c.Repo, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	c.authorize(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download log for job %d: %w", jobID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("download log for job %d: %s: %s", jobID, resp.Status, string(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read log for job %d: %w", jobID, err)
	}
	return string(data), nil
}

type ghCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// ListCommits fetches commits on the default branch since the given time,
// newest first. Used by the correlator as the fix-candidate pool.
func (c *Client) ListCommits(ctx context.Context, since time.Time) ([]Commit, error) {
	var all []Commit
	const pageSize = 100
	for page := 1; ; page++ {
		u := fmt.Sprintf("%s/repos/%s/commits?since=%s&per_page=%d&page=%d",
			c.BaseURL, c.Repo, url.QueryEscape(since.UTC().Format(time.RFC3339)), pageSize, page)
		var pageData []ghCommit
		if err := c.getJSON(ctx, u, &pageData); err != nil {
			return nil, fmt.Errorf("list commits: %w", err)
		}
		for _, gc := range pageData {
			subject := gc.Commit.Message
			if i := strings.IndexByte(subject, '\n'); i >= 0 {
				subject = subject[:i]
			}
			all = append(all, Commit{
				SHA:     gc.SHA,
				Subject: subject,
				Author:  gc.Commit.Author.Name,
				Date:    gc.Commit.Author.Date,
				URL:     gc.HTMLURL,
			})
		}
		if len(pageData) < pageSize {
			break
		}
	}
	return all, nil
}

type ghPull struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOpenPRs fetches all open pull requests, newest first.
func (c *Client) ListOpenPRs(ctx context.Context) ([]PullRequest, error) {
	var all []PullRequest
	const pageSize = 100
	for page := 1; ; page++ {
		u := fmt.Sprintf("%s/repos/%s/pulls?state=open&sort=created&direction=desc&per_page=%d&page=%d",
			c.BaseURL, c.Repo, pageSize, page)
		var pageData []ghPull
		if err := c.getJSON(ctx, u, &pageData); err != nil {
			return nil, fmt.Errorf("list open prs: %w", err)
		}
		for _, p := range pageData {
			all = append(all, PullRequest{
				Number:    p.Number,
				Title:     p.Title,
				URL:       p.HTMLURL,
				CreatedAt: p.CreatedAt,
			})
		}
		if len(pageData) < pageSize {
			break
		}
	}
	return all, nil
}

func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func sortRunsByDateDesc(runs []FailedRun) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}
