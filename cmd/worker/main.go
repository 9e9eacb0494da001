// Command worker is the CLI entry point for the ticket worker process: a
// one-shot process bound to a single ticket id that bootstraps a git
// workspace and drives the Planning -> Developer -> QA phase machine
// against it (spec §1/§4.1).
//
// # Basic Usage
//
// Run against a ticket:
//
//	worker run --ticket-id t-123 --server-url https://control.example.com --repo /work/t-123
//
// Validate configuration without connecting to a ticket:
//
//	worker doctor --settings settings.json --prompts ./prompts
//
// # Environment Variables
//
// LLM API keys and git credentials are overlaid onto the settings file via
// env tags (see internal/settings.LLMConfig, GitConfig) rather than passed
// as flags, so they never appear in process listings.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/ticketworker/internal/logging"
)

// version is populated by ldflags during release builds.
var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "worker",
		Short:   "Ticket worker: drives a single ticket through planning, development, and QA",
		Version: version,
	}

	cmd.AddCommand(buildRunCmd())
	cmd.AddCommand(buildDoctorCmd())
	return cmd
}

func newLogger(jsonLogging bool) *slog.Logger {
	return logging.New(logging.Config{JSON: jsonLogging, Output: os.Stderr})
}
