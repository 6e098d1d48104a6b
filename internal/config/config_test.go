package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Branch != "main" || cfg.Workflow != "*" || cfg.LookbackDays != 7 || cfg.Workers != 4 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flakectl.yaml")
	content := `
repo: acme/widgets
branch: main,release-1.2
lookback_days: 14
workers: 8
skip_jobs:
  - nightly-perf
flake_tie_real: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Repo != "acme/widgets" || cfg.LookbackDays != 14 || cfg.Workers != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.SkipJobs) != 1 || cfg.SkipJobs[0] != "nightly-perf" {
		t.Errorf("SkipJobs = %v", cfg.SkipJobs)
	}
	if !cfg.FlakeTieReal {
		t.Error("FlakeTieReal not read")
	}
	// Unset file fields keep their defaults.
	if cfg.Workflow != "*" || cfg.OutputDir != "flakectl-out" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Branch != "main" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghs_test")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("FLAKECTL_REPO", "acme/widgets")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GithubToken != "ghs_test" || cfg.AnthropicAPIKey != "sk-ant-test" || cfg.Repo != "acme/widgets" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("empty repo should fail validation")
	}
	cfg.Repo = "not-a-repo"
	if err := cfg.Validate(); err == nil {
		t.Error("repo without owner should fail validation")
	}
	cfg.Repo = "acme/widgets"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestFilters(t *testing.T) {
	cfg := Config{Branch: "*", Workflow: "ci.yaml, nightly.yaml"}
	if got := cfg.Branches(); got != nil {
		t.Errorf("Branches(*) = %v, want nil", got)
	}
	wf := cfg.Workflows()
	if len(wf) != 2 || wf[0] != "ci.yaml" || wf[1] != "nightly.yaml" {
		t.Errorf("Workflows = %v", wf)
	}
}

func TestSince(t *testing.T) {
	cfg := Config{LookbackDays: 7}
	now := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	if got := cfg.Since(now); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Since = %v", got)
	}
}

func TestResolveContext(t *testing.T) {
	if got, err := ResolveContext("inline text"); err != nil || got != "inline text" {
		t.Errorf("inline: %q, %v", got, err)
	}
	path := filepath.Join(t.TempDir(), "ctx.md")
	os.WriteFile(path, []byte("repo notes"), 0644)
	if got, err := ResolveContext("@" + path); err != nil || got != "repo notes" {
		t.Errorf("file: %q, %v", got, err)
	}
	if _, err := ResolveContext("@/nonexistent/ctx.md"); err == nil {
		t.Error("missing context file should error")
	}
}
