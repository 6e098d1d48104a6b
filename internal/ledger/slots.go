package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"flakectl/internal/classify"
	"flakectl/internal/ghfetch"
)

// Output slots live under <ledger dir>/runs, one file per task. A slot has
// exactly one writer ever: the worker that owns the task. The scheduler
// reconciles finished slots back into progress.md from a single goroutine,
// which is why result aggregation needs no lock.

const slotDirName = "runs"

// SlotPath returns the output slot path for a run.
func (l *Ledger) SlotPath(runID int64) string {
	return filepath.Join(l.Dir(), slotDirName, fmt.Sprintf("run-%d.md", runID))
}

// SlotRef returns the slot path relative to the ledger directory, the form
// recorded in the output field of progress.md.
func (l *Ledger) SlotRef(runID int64) string {
	return filepath.Join(slotDirName, fmt.Sprintf("run-%d.md", runID))
}

// WriteSlot writes a completed classification into a slot file as a done
// run block. Only the task's own worker may call this for its slot.
func WriteSlot(path string, run ghfetch.FailedRun, rec *classify.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create slot dir: %w", err)
	}
	t := &Task{Run: run, Status: StatusDone, Record: rec}
	if err := os.WriteFile(path, []byte(RenderRunBlock(t)), 0644); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	return nil
}

// ReadSlot parses a slot file back into a Task. Used by the reconcile step
// and by the report stage when re-running against an interrupted invocation.
func ReadSlot(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read slot: %w", err)
	}
	t, err := ParseRunBlock(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse slot %s: %w", path, err)
	}
	return t, nil
}
