package main

import (
	"context"

	"github.com/spf13/cobra"

	"flakectl/internal/ghfetch"
	"flakectl/internal/logging"
	"flakectl/internal/toolserver"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP tool server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing the ledger as tools:
claim_task, download_log, submit_classification and the history search
tools. An MCP host (an IDE agent, for instance) can then work the
pending tasks instead of the built-in Anthropic agent.

The server monitors for parent process death. When the host disconnects,
the server self-terminates to prevent zombie processes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&reportFlags.outputDir, "output-dir", "", "Directory holding progress.md (default: config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if reportFlags.outputDir != "" {
		cfg.OutputDir = reportFlags.outputDir
	}
	led, err := loadLedger(cfg)
	if err != nil {
		return err
	}

	// Tools degrade gracefully without a token; task and verdict tools
	// still work offline.
	var gh *ghfetch.Client
	if cfg.GithubToken != "" {
		gh, err = ghfetch.New(cfg.Repo, cfg.GithubToken)
		if err != nil {
			return err
		}
	}
	var srv *toolserver.Server
	if gh != nil {
		srv = toolserver.NewServer(led, gh, gh)
	} else {
		srv = toolserver.NewServer(led, nil, nil)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	toolserver.WatchParent(ctx, cancel)

	logging.New("serve").Info("starting flakectl MCP server over stdio (parent watchdog active)",
		"ledger", led.Path())
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
