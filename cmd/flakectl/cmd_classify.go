package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"flakectl/internal/classify"
	"flakectl/internal/config"
	"flakectl/internal/logging"
	"flakectl/internal/schedule"
	"flakectl/internal/store"
)

var classifyFlags struct {
	model        string
	workers      int
	maxTurns     int
	staleTimeout int
	context      string
	outputDir    string
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify the pending runs in the ledger with the AI agent",
	Long: `Works through the pending tasks in progress.md with a bounded worker
pool. Each worker drives an Anthropic tool-use conversation over the
run's job logs and records the verdict in the task's output slot. A
staleness watchdog cancels the pass when no task finishes for the
configured interval; interrupted work stays resumable.`,
	RunE: runClassify,
}

func init() {
	f := classifyCmd.Flags()
	f.StringVar(&classifyFlags.model, "model", "", "Anthropic model name (default: config)")
	f.IntVar(&classifyFlags.workers, "workers", 0, "Concurrent classification tasks (default: config)")
	f.IntVar(&classifyFlags.maxTurns, "max-turns", 0, "Conversation turn budget per task (default: config)")
	f.IntVar(&classifyFlags.staleTimeout, "stale-timeout", 0, "Watchdog interval in minutes (default: config)")
	f.StringVar(&classifyFlags.context, "context", "", "Repository context for the classifier, inline or @file")
	f.StringVar(&classifyFlags.outputDir, "output-dir", "", "Directory holding progress.md (default: config)")
}

func applyClassifyOverrides(c *config.Config) {
	if classifyFlags.model != "" {
		c.Model = classifyFlags.model
	}
	if classifyFlags.workers > 0 {
		c.Workers = classifyFlags.workers
	}
	if classifyFlags.maxTurns > 0 {
		c.MaxTurnsClassify = classifyFlags.maxTurns
	}
	if classifyFlags.staleTimeout > 0 {
		c.StaleTimeoutMin = classifyFlags.staleTimeout
	}
	if classifyFlags.context != "" {
		c.Context = classifyFlags.context
	}
	if classifyFlags.outputDir != "" {
		c.OutputDir = classifyFlags.outputDir
	}
}

// knownCategorySeed pulls category names from earlier archived analyses so
// a fresh pass converges on established names instead of inventing parallel
// ones. Best effort; no archive just means an empty seed.
func knownCategorySeed(c config.Config) []string {
	if _, err := os.Stat(c.StorePath); err != nil {
		return nil
	}
	log := logging.New("classify")
	arc, err := store.Open(c.StorePath)
	if err != nil {
		log.Warn("archive unavailable, classifying without seed", "error", err)
		return nil
	}
	defer arc.Close()
	names, err := arc.KnownCategoryNames(c.Repo)
	if err != nil {
		log.Warn("archive query failed, classifying without seed", "error", err)
		return nil
	}
	return names
}

func runClassify(cmd *cobra.Command, _ []string) error {
	applyClassifyOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := requireAnthropicKey(cfg); err != nil {
		return err
	}
	client, err := newGitHubClient(cfg)
	if err != nil {
		return err
	}
	led, err := loadLedger(cfg)
	if err != nil {
		return err
	}

	hints, err := config.ResolveContext(cfg.Context)
	if err != nil {
		return err
	}

	agent := classify.NewAgent(cfg.AnthropicAPIKey, client, classify.AgentOptions{
		Model:      cfg.Model,
		TurnBudget: cfg.MaxTurnsClassify,
	})
	sched := schedule.New(led, agent, schedule.Options{
		Workers:      cfg.Workers,
		StaleTimeout: cfg.StaleTimeout(),
		Hints:        hints,
		Seed:         knownCategorySeed(cfg),
	})

	start := time.Now()
	outcome, err := sched.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("classification pass: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, taskTable(led.Snapshot()))
	fmt.Fprintf(out, "classified %d, failed %d, timed out %d in %s\n",
		outcome.Done, outcome.Failed, outcome.TimedOut, time.Since(start).Round(time.Second))
	if outcome.Stale {
		fmt.Fprintf(out, "pass cut short by the staleness watchdog; stuck tasks are marked timed_out\n")
	}
	return nil
}
