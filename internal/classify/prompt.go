package classify

import (
	"fmt"
	"sort"
	"strings"

	"flakectl/internal/ghfetch"
)

const classificationRules = `You are a CI failure analyst. You classify the failed jobs of one
GitHub Actions workflow run.

Each failed job gets exactly one category key of the form:

    <kind>/<cause-slug>[/<subcomponent>]

where <kind> is one of:
- test-flake: a test failed for a non-deterministic reason unrelated to the
  change under test (timing, ordering, races, flaky assertions). is_flake=true.
- infra-flake: the environment failed, not the code (runner lost, network
  timeout, registry 5xx, out of disk, cancelled by infra). is_flake=true.
- bug: a real defect in the code under test. is_flake=false.
- build-error: compilation or packaging broke before tests ran. is_flake=false.

The cause slug is a short lowercase hyphenated phrase naming the root cause
(e.g. "pytest-timeout", "docker-pull-502", "nil-deref-scheduler"). Reuse a
known category key when the cause matches one; invent a new slug only for a
genuinely new cause.

Rules:
- Inspect the log before deciding. Use the download_log tool; do not guess
  from the job name alone.
- An assertion failure that would reproduce on re-run is a bug, not a flake.
- A timeout inside a test is test-flake unless the log shows a deadlock
  introduced by the change, which is a bug.
- Classify every failed job listed. Do not skip any.

When you have inspected enough logs, answer with JSON only (no markdown):

{"jobs": [{"job_name": "...", "job_id": 123, "category": "test-flake/pytest-timeout", "is_flake": true, "test_ids": ["tests/test_x.py::test_y"], "failed_test": "tests/test_x.py::test_y", "error_message": "one-line error excerpt from the log", "summary": "one sentence on what happened"}]}

test_ids lists the fully qualified identifiers of the failing tests, empty
for non-test failures. error_message is copied from the log, not paraphrased.`

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(classificationRules)
	if hints := strings.TrimSpace(req.Hints); hints != "" {
		b.WriteString("\n\nRepository context:\n")
		b.WriteString(hints)
	}
	if len(req.KnownCategories) > 0 {
		known := append([]string(nil), req.KnownCategories...)
		sort.Strings(known)
		b.WriteString("\n\nCategory keys already in use (reuse when the cause matches):\n")
		for _, k := range known {
			b.WriteString("- " + k + "\n")
		}
	}
	return b.String()
}

func buildUserPrompt(run ghfetch.FailedRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify the failed jobs of run %d.\n\n", run.ID)
	fmt.Fprintf(&b, "run_url: %s\n", run.URL)
	fmt.Fprintf(&b, "workflow: %s\n", run.Workflow)
	fmt.Fprintf(&b, "branch: %s\n", run.Branch)
	fmt.Fprintf(&b, "event: %s\n", run.Event)
	fmt.Fprintf(&b, "commit: %s\n", run.CommitSHA)
	fmt.Fprintf(&b, "started_at: %s\n", run.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	b.WriteString("\nFailed jobs:\n")
	for _, job := range run.Jobs {
		fmt.Fprintf(&b, "- job_id=%d name=%q failure_step=%q\n", job.ID, job.Name, job.FailureStep)
	}
	return b.String()
}
