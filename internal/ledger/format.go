package ledger

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"flakectl/internal/classify"
	"flakectl/internal/ghfetch"
)

// progress.md syntax. HTML comment markers delimit run blocks so a whole
// block can be replaced without disturbing its neighbours, and so external
// agent harnesses can locate their own block unambiguously.
var (
	runBlockRe = regexp.MustCompile(`(?s)<!-- BEGIN RUN (\d+) -->(.*?)<!-- END RUN \d+ -->`)
	jobHeadRe  = regexp.MustCompile("#### job: `([^`]+)`")
)

const maxCategorySummary = 120

func fieldRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`- \*\*` + regexp.QuoteMeta(name) + `\*\*:[ \t]*(.*)`)
}

var fieldRes = map[string]*regexp.Regexp{}

func init() {
	for _, f := range []string{
		"status", "reason", "run_url", "branch", "event", "run_started_at",
		"run_attempt", "commit_sha", "step", "job_id", "category",
		"is_flake", "test-id", "failed_test", "error_message", "summary",
	} {
		fieldRes[f] = fieldRe(f)
	}
}

func parseField(text, name string) string {
	m := fieldRes[name].FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func renderDocument(tasks []*Task, now time.Time) string {
	var b strings.Builder
	b.WriteString("# CI Failure Classification Progress\n\n")
	b.WriteString(fmt.Sprintf("_Updated: %s_\n\n", now.Format(time.RFC3339)))
	b.WriteString("## Categories So Far\n")
	b.WriteString("<!-- CATEGORIES START -->\n")
	b.WriteString(renderCategoriesSoFar(tasks))
	b.WriteString("<!-- CATEGORIES END -->\n\n")
	b.WriteString("---\n\n")

	for _, t := range tasks {
		b.WriteString(RenderRunBlock(t))
		b.WriteString("\n")
	}
	return b.String()
}

// renderCategoriesSoFar lists each base category seen in done tasks with its
// first summary, so in-flight agents converge on existing names instead of
// inventing parallel ones.
func renderCategoriesSoFar(tasks []*Task) string {
	summaries := map[string]string{}
	var order []string
	for _, t := range tasks {
		if t.Status != StatusDone || t.Record == nil {
			continue
		}
		for _, jc := range t.Record.Jobs {
			if classify.KindOf(jc.Category) == "" {
				continue
			}
			base := classify.BaseKey(jc.Category)
			if _, seen := summaries[base]; seen {
				continue
			}
			s := jc.Summary
			if len(s) > maxCategorySummary {
				s = s[:maxCategorySummary-3] + "..."
			}
			summaries[base] = s
			order = append(order, base)
		}
	}
	if len(order) == 0 {
		return "(none yet)\n"
	}
	sort.Strings(order)
	var b strings.Builder
	for _, base := range order {
		if summaries[base] != "" {
			b.WriteString(fmt.Sprintf("- `%s` -- %s\n", base, summaries[base]))
		} else {
			b.WriteString(fmt.Sprintf("- `%s`\n", base))
		}
	}
	return b.String()
}

// RenderRunBlock renders one task as a self-contained progress block. The
// same rendering is used inside progress.md and for per-task slot files.
func RenderRunBlock(t *Task) string {
	var b strings.Builder
	run := t.Run
	fmt.Fprintf(&b, "<!-- BEGIN RUN %d -->\n", run.ID)
	fmt.Fprintf(&b, "## run_id: %d\n", run.ID)
	fmt.Fprintf(&b, "- **status**: %s\n", t.Status)
	if t.Reason != "" {
		fmt.Fprintf(&b, "- **reason**: %s\n", t.Reason)
	}
	fmt.Fprintf(&b, "- **run_url**: %s\n", run.URL)
	fmt.Fprintf(&b, "- **branch**: %s\n", run.Branch)
	fmt.Fprintf(&b, "- **event**: %s\n", run.Event)
	fmt.Fprintf(&b, "- **run_started_at**: %s\n", run.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **run_attempt**: %d\n", run.Attempt)
	fmt.Fprintf(&b, "- **commit_sha**: %s\n\n", run.CommitSHA)

	for _, job := range run.Jobs {
		var jc *classify.JobClassification
		if t.Record != nil {
			for i := range t.Record.Jobs {
				if t.Record.Jobs[i].JobName == job.Name {
					jc = &t.Record.Jobs[i]
					break
				}
			}
		}
		fmt.Fprintf(&b, "#### job: `%s`\n", job.Name)
		fmt.Fprintf(&b, "- **step**: %s\n", job.FailureStep)
		fmt.Fprintf(&b, "- **job_id**: %d\n", job.ID)
		if jc != nil {
			flake := "no"
			if jc.IsFlake {
				flake = "yes"
			}
			fmt.Fprintf(&b, "- **category**: %s\n", jc.Category)
			fmt.Fprintf(&b, "- **is_flake**: %s\n", flake)
			fmt.Fprintf(&b, "- **test-id**: %s\n", strings.Join(jc.TestIDs, ", "))
			fmt.Fprintf(&b, "- **failed_test**: %s\n", jc.FailedTest)
			fmt.Fprintf(&b, "- **error_message**: %s\n", sanitizeField(jc.ErrorMessage))
			fmt.Fprintf(&b, "- **summary**: %s\n\n", sanitizeField(jc.Summary))
		} else {
			b.WriteString("- **category**:\n")
			b.WriteString("- **is_flake**:\n")
			b.WriteString("- **test-id**:\n")
			b.WriteString("- **failed_test**:\n")
			b.WriteString("- **error_message**:\n")
			b.WriteString("- **summary**:\n\n")
		}
	}
	fmt.Fprintf(&b, "<!-- END RUN %d -->\n", run.ID)
	return b.String()
}

// sanitizeField flattens newlines so multi-line agent output cannot break
// the one-line field syntax.
func sanitizeField(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseDocument(content string) ([]*Task, error) {
	var tasks []*Task
	for _, m := range runBlockRe.FindAllStringSubmatch(content, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad run id %q: %w", m[1], err)
		}
		t, err := parseRunBlock(id, m[2])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ParseRunBlock parses one run block (e.g. a slot file written by a worker
// or an external agent) back into a Task.
func ParseRunBlock(content string) (*Task, error) {
	m := runBlockRe.FindStringSubmatch(content)
	if m == nil {
		return nil, fmt.Errorf("no run block found")
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad run id %q: %w", m[1], err)
	}
	return parseRunBlock(id, m[2])
}

func parseRunBlock(id int64, body string) (*Task, error) {
	status := Status(parseField(body, "status"))
	switch status {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed, StatusTimedOut:
	case "":
		return nil, fmt.Errorf("run %d: missing status", id)
	default:
		return nil, fmt.Errorf("run %d: unknown status %q", id, status)
	}

	started, _ := time.Parse(time.RFC3339, parseField(body, "run_started_at"))
	attempt, _ := strconv.Atoi(parseField(body, "run_attempt"))
	run := ghfetch.FailedRun{
		ID:        id,
		URL:       parseField(body, "run_url"),
		Branch:    parseField(body, "branch"),
		Event:     parseField(body, "event"),
		CommitSHA: parseField(body, "commit_sha"),
		StartedAt: started,
		Attempt:   attempt,
	}

	var jobs []classify.JobClassification
	for _, jm := range splitJobSections(body) {
		jobName := jm.name
		jobBody := jm.body
		jobID, _ := strconv.ParseInt(parseField(jobBody, "job_id"), 10, 64)
		run.Jobs = append(run.Jobs, ghfetch.FailedJob{
			ID:          jobID,
			Name:        jobName,
			FailureStep: parseField(jobBody, "step"),
		})
		if cat := parseField(jobBody, "category"); cat != "" {
			jobs = append(jobs, classify.JobClassification{
				JobName:      jobName,
				JobID:        jobID,
				Category:     cat,
				IsFlake:      parseField(jobBody, "is_flake") == "yes",
				TestIDs:      splitCSV(parseField(jobBody, "test-id")),
				FailedTest:   parseField(jobBody, "failed_test"),
				ErrorMessage: parseField(jobBody, "error_message"),
				Summary:      parseField(jobBody, "summary"),
			})
		}
	}

	t := &Task{Run: run, Status: status, Reason: parseField(body, "reason")}
	if status == StatusDone {
		t.Record = &classify.Record{
			RunID:     id,
			RunURL:    run.URL,
			Branch:    run.Branch,
			StartedAt: run.StartedAt,
			Jobs:      jobs,
		}
	}
	return t, nil
}

type jobSection struct {
	name string
	body string
}

// splitJobSections carves a run body into per-job sections. RE2 has no
// lookahead, so the section body is delimited by the next header match.
func splitJobSections(body string) []jobSection {
	heads := jobHeadRe.FindAllStringSubmatchIndex(body, -1)
	out := make([]jobSection, 0, len(heads))
	for i, h := range heads {
		end := len(body)
		if i+1 < len(heads) {
			end = heads[i+1][0]
		}
		out = append(out, jobSection{
			name: strings.TrimSpace(body[h[2]:h[3]]),
			body: body[h[1]:end],
		})
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
