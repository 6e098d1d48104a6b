// Package schedule runs classification tasks against a bounded worker pool
// and reconciles their results into the ledger.
//
// Concurrency contract: the ledger and the known-category set are touched
// only by the reconcile loop (the goroutine running Run). Workers receive
// immutable inputs, write their own output slot, and report back over the
// events channel. The staleness watchdog is a timer re-armed on every
// terminal event; when it fires the pool is cancelled once and every
// non-terminal task, dispatched or not, is marked timed_out.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"flakectl/internal/classify"
	"flakectl/internal/ghfetch"
	"flakectl/internal/ledger"
	"flakectl/internal/logging"
)

const (
	defaultWorkers      = 4
	defaultStaleTimeout = 10 * time.Minute
)

// Options tunes one scheduler pass. Zero values pick the defaults above.
type Options struct {
	// Workers bounds the number of classification tasks in flight.
	Workers int
	// StaleTimeout is the maximum quiet interval between terminal events
	// before the watchdog cancels the pass.
	StaleTimeout time.Duration
	// Hints is operator-supplied repository context, passed to every task.
	Hints string
	// Seed lists category names from earlier invocations (the analysis
	// archive), merged into the known-category set before dispatch.
	Seed []string
}

// Outcome summarizes one scheduler pass.
type Outcome struct {
	Done     int
	Failed   int
	TimedOut int
	// Stale is set when the watchdog fired and cut the pass short.
	Stale bool
}

type Scheduler struct {
	led  *ledger.Ledger
	cap  classify.Capability
	opts Options
	log  *slog.Logger
}

func New(led *ledger.Ledger, cap classify.Capability, opts Options) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = defaultStaleTimeout
	}
	return &Scheduler{led: led, cap: cap, opts: opts, log: logging.New("schedule")}
}

// event is one worker's report back to the reconcile loop.
type event struct {
	runID int64
	rec   *classify.Record
	err   error
}

// Run executes every pending task in the ledger and blocks until all of
// them reach a terminal state or the watchdog fires. Task-level failures
// (bad verdicts, turn limits) are recorded in the ledger, not returned;
// the error return is for process-level conditions only.
func (s *Scheduler) Run(ctx context.Context) (Outcome, error) {
	pending := s.led.Pending()
	if len(pending) == 0 {
		s.log.Info("nothing to schedule")
		return s.outcome(false), nil
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan event)
	watchdog := time.NewTimer(s.opts.StaleTimeout)
	defer watchdog.Stop()

	known := knownCategories(s.led)
	for _, name := range s.opts.Seed {
		known[classify.BaseKey(name)] = true
	}
	s.log.Info("scheduling", "tasks", len(pending), "workers", s.opts.Workers,
		"stale_timeout", s.opts.StaleTimeout)

	next := 0
	inFlight := 0
	stale := false

loop:
	for {
		for !stale && inFlight < s.opts.Workers && next < len(pending) {
			t := pending[next]
			next++
			if err := s.led.MarkInProgress(t.Run.ID); err != nil {
				return s.outcome(stale), err
			}
			go s.work(ctx, t.Run, snapshot(known), events)
			inFlight++
		}
		if inFlight == 0 {
			break
		}

		select {
		case ev := <-events:
			inFlight--
			if err := s.reconcile(ev, known); err != nil {
				return s.outcome(stale), err
			}
			resetTimer(watchdog, s.opts.StaleTimeout)

		case <-watchdog.C:
			// Fires at most once: cancel the pool, then fall through to
			// drain the workers below.
			s.log.Warn("staleness watchdog fired, cancelling outstanding tasks",
				"in_flight", inFlight, "quiet_for", s.opts.StaleTimeout)
			stale = true
			cancel()
			break loop

		case <-ctx.Done():
			stale = true
			break loop
		}
	}

	if stale {
		// Drain the cancelled workers, then mark everything not yet
		// terminal as timed_out, dispatched or not. A worker that finished
		// in the race window still gets its result recorded.
		for ; inFlight > 0; inFlight-- {
			ev := <-events
			if ev.err != nil && isCancellation(ev.err) {
				continue
			}
			if err := s.reconcile(ev, known); err != nil {
				return s.outcome(stale), err
			}
		}
		for _, st := range s.led.Snapshot() {
			if st.Status == ledger.StatusInProgress || st.Status == ledger.StatusPending {
				if err := s.led.MarkTimedOut(st.RunID); err != nil {
					return s.outcome(stale), err
				}
			}
		}
	}

	out := s.outcome(stale)
	s.log.Info("scheduling finished", "done", out.Done, "failed", out.Failed,
		"timed_out", out.TimedOut, "stale", out.Stale)
	if err := parent.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// work runs one classification task. It owns exactly one output slot and
// never touches the ledger.
func (s *Scheduler) work(ctx context.Context, run ghfetch.FailedRun, known []string, events chan<- event) {
	rec, err := s.cap.Classify(ctx, classify.Request{
		Run:             run,
		Hints:           s.opts.Hints,
		KnownCategories: known,
	})
	if err != nil {
		events <- event{runID: run.ID, err: err}
		return
	}
	if err := ledger.WriteSlot(s.led.SlotPath(run.ID), run, rec); err != nil {
		events <- event{runID: run.ID, err: err}
		return
	}
	events <- event{runID: run.ID, rec: rec}
}

// reconcile applies one worker result to the ledger. Runs only on the
// reconcile goroutine.
func (s *Scheduler) reconcile(ev event, known map[string]bool) error {
	if ev.err != nil {
		reason := ev.err.Error()
		if errors.Is(ev.err, classify.ErrTurnLimit) {
			reason = fmt.Sprintf("turn limit exceeded: %v", ev.err)
		}
		s.log.Warn("task failed", "run", ev.runID, "error", ev.err)
		return s.led.MarkFailed(ev.runID, reason)
	}
	for _, job := range ev.rec.Jobs {
		known[classify.BaseKey(job.Category)] = true
	}
	s.log.Info("task done", "run", ev.runID, "jobs", len(ev.rec.Jobs))
	return s.led.MarkDone(ev.runID, s.led.SlotRef(ev.runID), ev.rec)
}

func (s *Scheduler) outcome(stale bool) Outcome {
	out := Outcome{Stale: stale}
	for _, st := range s.led.Snapshot() {
		switch st.Status {
		case ledger.StatusDone:
			out.Done++
		case ledger.StatusFailed:
			out.Failed++
		case ledger.StatusTimedOut:
			out.TimedOut++
		}
	}
	return out
}

func knownCategories(led *ledger.Ledger) map[string]bool {
	known := make(map[string]bool)
	for _, rec := range led.Records() {
		for _, job := range rec.Jobs {
			known[classify.BaseKey(job.Category)] = true
		}
	}
	return known
}

func snapshot(known map[string]bool) []string {
	out := make([]string, 0, len(known))
	for k := range known {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// resetTimer re-arms a timer whose channel may or may not have fired yet.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
