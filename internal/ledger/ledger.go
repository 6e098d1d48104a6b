// Package ledger owns progress.md, the durable plain-text record of every
// classification task and its state. Operators can read and hand-edit the
// file mid-flight; every mutation is persisted before the call returns.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flakectl/internal/classify"
	"flakectl/internal/ghfetch"
	"flakectl/internal/logging"
)

// Status is the lifecycle state of one classification task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// Terminal reports whether a task in this status is finished for good.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusTimedOut
}

// Task is one unit of classification work: one failed run.
type Task struct {
	Run       ghfetch.FailedRun
	Status    Status
	Reason    string           // populated when Status == failed
	OutputRef string           // slot file path, populated when done
	Record    *classify.Record // parsed classification, populated when done
}

// Ledger coordinates task state on disk. Mutations must come from a single
// goroutine (the scheduler's reconcile loop); workers never touch the
// ledger, only their own output slots.
type Ledger struct {
	path  string
	tasks []*Task
	byID  map[int64]*Task
}

// Init creates a fresh ledger from the fetched snapshot, one pending task
// per run, and writes progress.md. Jobs named in skipJobs are dropped; runs
// left with no jobs are dropped entirely.
func Init(path string, runs []ghfetch.FailedRun, skipJobs []string) (*Ledger, error) {
	skip := make(map[string]bool, len(skipJobs))
	for _, name := range skipJobs {
		skip[name] = true
	}

	l := &Ledger{path: path, byID: make(map[int64]*Task)}
	for _, run := range runs {
		kept := run
		kept.Jobs = nil
		for _, job := range run.Jobs {
			if skip[job.Name] {
				continue
			}
			kept.Jobs = append(kept.Jobs, job)
		}
		if len(kept.Jobs) == 0 {
			continue
		}
		t := &Task{Run: kept, Status: StatusPending}
		l.tasks = append(l.tasks, t)
		l.byID[kept.ID] = t
	}

	if err := l.persist(); err != nil {
		return nil, err
	}
	logging.New("ledger").Info("initialized ledger",
		"path", path, "tasks", len(l.tasks))
	return l, nil
}

// Load reads an existing progress.md back into a Ledger, including any
// classification data recorded in done blocks.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	tasks, err := parseDocument(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	l := &Ledger{path: path, tasks: tasks, byID: make(map[int64]*Task, len(tasks))}
	for _, t := range tasks {
		l.byID[t.Run.ID] = t
	}
	return l, nil
}

// Path returns the progress.md location.
func (l *Ledger) Path() string { return l.path }

// Dir returns the directory holding progress.md and the runs/ slot dir.
func (l *Ledger) Dir() string { return filepath.Dir(l.path) }

// Tasks returns the tasks in ledger order (newest run first).
func (l *Ledger) Tasks() []*Task { return l.tasks }

// Pending returns the tasks still in pending state.
func (l *Ledger) Pending() []*Task {
	var out []*Task
	for _, t := range l.tasks {
		if t.Status == StatusPending {
			out = append(out, t)
		}
	}
	return out
}

// MarkInProgress transitions a pending task to in_progress.
func (l *Ledger) MarkInProgress(runID int64) error {
	return l.transition(runID, StatusInProgress, func(t *Task) {})
}

// MarkDone records a completed classification: the output slot reference
// and the parsed record.
func (l *Ledger) MarkDone(runID int64, outputRef string, rec *classify.Record) error {
	return l.transition(runID, StatusDone, func(t *Task) {
		t.OutputRef = outputRef
		t.Record = rec
	})
}

// MarkFailed records a task-level failure with its reason.
func (l *Ledger) MarkFailed(runID int64, reason string) error {
	return l.transition(runID, StatusFailed, func(t *Task) {
		t.Reason = reason
	})
}

// MarkTimedOut records a task cancelled by the staleness watchdog.
func (l *Ledger) MarkTimedOut(runID int64) error {
	return l.transition(runID, StatusTimedOut, func(t *Task) {})
}

func (l *Ledger) transition(runID int64, to Status, apply func(*Task)) error {
	t, ok := l.byID[runID]
	if !ok {
		return fmt.Errorf("unknown run %d", runID)
	}
	if t.Status.Terminal() {
		// Resurrecting a terminal task is a programming error in the
		// scheduler, not a runtime condition.
		panic(fmt.Sprintf("ledger: task %d already terminal (%s), cannot move to %s",
			runID, t.Status, to))
	}
	t.Status = to
	apply(t)
	return l.persist()
}

// TaskState is a point-in-time copy of one task's externally visible state.
type TaskState struct {
	RunID  int64
	RunURL string
	Status Status
	Reason string
}

// Snapshot returns the current state of all tasks.
func (l *Ledger) Snapshot() []TaskState {
	out := make([]TaskState, 0, len(l.tasks))
	for _, t := range l.tasks {
		out = append(out, TaskState{
			RunID:  t.Run.ID,
			RunURL: t.Run.URL,
			Status: t.Status,
			Reason: t.Reason,
		})
	}
	return out
}

// Records returns the classification records of all done tasks, in ledger
// order.
func (l *Ledger) Records() []classify.Record {
	var out []classify.Record
	for _, t := range l.tasks {
		if t.Status == StatusDone && t.Record != nil {
			out = append(out, *t.Record)
		}
	}
	return out
}

// Counts returns (done, total) across all tasks, for "N of M" reporting.
func (l *Ledger) Counts() (done, total int) {
	for _, t := range l.tasks {
		if t.Status == StatusDone {
			done++
		}
	}
	return done, len(l.tasks)
}

func (l *Ledger) persist() error {
	doc := renderDocument(l.tasks, time.Now().UTC())
	if err := os.WriteFile(l.path, []byte(doc), 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}
