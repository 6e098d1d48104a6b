// Package config loads flakectl settings from an optional YAML file,
// layered under environment variables and command-line flags. Precedence
// is flags > environment > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config is the full invocation configuration.
type Config struct {
	// Repo is the target repository, owner/name.
	Repo string `yaml:"repo"`
	// Branch filters runs: a name, a comma-separated list, or * for all.
	Branch string `yaml:"branch"`
	// Workflow filters runs: a workflow file name, a comma-separated
	// list, or * for all.
	Workflow     string   `yaml:"workflow"`
	LookbackDays int      `yaml:"lookback_days"`
	SkipJobs     []string `yaml:"skip_jobs"`
	// Context is free-text repository context for classifier tasks,
	// inline or @file.
	Context string `yaml:"context"`

	Model            string `yaml:"model"`
	Workers          int    `yaml:"workers"`
	MaxTurnsClassify int    `yaml:"max_turns_classify"`
	StaleTimeoutMin  int    `yaml:"stale_timeout_min"`
	// FlakeTieReal flips the merge tie-break toward real failures.
	FlakeTieReal bool `yaml:"flake_tie_real"`

	OutputDir string `yaml:"output_dir"`
	StorePath string `yaml:"store_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Secrets come from the environment only, never the file.
	GithubToken     string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Branch:           "main",
		Workflow:         "*",
		LookbackDays:     7,
		Workers:          4,
		MaxTurnsClassify: 8,
		StaleTimeoutMin:  10,
		OutputDir:        "flakectl-out",
		StorePath:        ".flakectl/flakectl.db",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads path if it exists and layers it over the defaults, then
// applies the environment. An empty path or a missing file is fine: you
// get defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GithubToken = v
	} else if v := os.Getenv("GH_TOKEN"); v != "" {
		c.GithubToken = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.AnthropicAPIKey = v
	}
	if v := os.Getenv("FLAKECTL_REPO"); v != "" {
		c.Repo = v
	}
	if v := os.Getenv("FLAKECTL_MODEL"); v != "" {
		c.Model = v
	}
}

// Validate checks the fields every subcommand relies on.
func (c *Config) Validate() error {
	if c.Repo == "" {
		return fmt.Errorf("repo is required (owner/name)")
	}
	if !strings.Contains(c.Repo, "/") {
		return fmt.Errorf("repo %q must be owner/name", c.Repo)
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("lookback_days must be positive, got %d", c.LookbackDays)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// StaleTimeout returns the staleness timeout as a duration.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.StaleTimeoutMin) * time.Minute
}

// Since returns the start of the lookback window relative to now.
func (c *Config) Since(now time.Time) time.Time {
	return now.Add(-time.Duration(c.LookbackDays) * 24 * time.Hour)
}

// Branches expands the branch filter into a list; * means all (empty
// list).
func (c *Config) Branches() []string {
	return splitFilter(c.Branch)
}

// Workflows expands the workflow filter into a list; * means all.
func (c *Config) Workflows() []string {
	return splitFilter(c.Workflow)
}

func splitFilter(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" || v == "*" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ResolveContext resolves the context setting: an @-prefixed value is
// read from the named file, anything else is taken verbatim.
func ResolveContext(value string) (string, error) {
	if !strings.HasPrefix(value, "@") {
		return value, nil
	}
	data, err := os.ReadFile(value[1:])
	if err != nil {
		return "", fmt.Errorf("read context file: %w", err)
	}
	return string(data), nil
}
