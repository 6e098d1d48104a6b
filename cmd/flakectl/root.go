package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flakectl/internal/config"
	"flakectl/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

// statusNoFailures is the process exit status when the fetch window holds
// zero failed runs. Distinct from success (0) and from errors (1) so CI
// wrappers can tell "nothing to analyze" apart from "all good".
const statusNoFailures = 20

// exitStatus is the status main exits with after a successful Execute.
// Commands raise it to signal non-error conditions such as no-failures.
var exitStatus = 0

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// cfg is the resolved configuration, available to every subcommand after
// the persistent pre-run.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "flakectl",
	Short: "Classify failed GitHub Actions runs into flake and bug categories",
	Long: "Flakectl fetches recent failed workflow runs, classifies each failure\n" +
		"with an AI agent, merges the verdicts into root-cause categories and\n" +
		"writes a report with likely fixes from repository history.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(rootFlags.configPath)
		if err != nil {
			return err
		}
		if rootFlags.logLevel != "" {
			c.LogLevel = rootFlags.logLevel
		}
		if rootFlags.logFormat != "" {
			c.LogFormat = rootFlags.logFormat
		}
		if err := logging.Init(c.LogLevel, c.LogFormat, os.Stderr); err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", ".flakectl.yaml", "Config file path")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(correlateCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitStatus)
}
