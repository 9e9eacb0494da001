package main

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/ticketworker/internal/infra"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/supervisor"
)

// buildRunCmd creates the "run" command that binds the worker process to a
// single ticket for its whole lifetime (spec §4.1).
func buildRunCmd() *cobra.Command {
	var (
		ticketID     string
		serverURL    string
		repoPath     string
		settingsPath string
		promptsDir   string
		authToken    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker against a single ticket until cancelled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), runConfig{
				ticketID:     ticketID,
				serverURL:    serverURL,
				repoPath:     repoPath,
				settingsPath: settingsPath,
				promptsDir:   promptsDir,
				authToken:    authToken,
			})
		},
	}

	cmd.Flags().StringVar(&ticketID, "ticket-id", "", "Ticket id this worker process is bound to (required)")
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Control plane base URL (required)")
	cmd.Flags().StringVar(&repoPath, "repo", "", "Local path to bootstrap the git workspace into (required)")
	cmd.Flags().StringVar(&settingsPath, "settings", "settings.json", "Path to the worker's JSON settings file")
	cmd.Flags().StringVar(&promptsDir, "prompts", "./prompts", "Directory containing the per-role prompt files")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "Bearer token for control-plane REST and websocket auth")
	_ = cmd.MarkFlagRequired("ticket-id")
	_ = cmd.MarkFlagRequired("server-url")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

type runConfig struct {
	ticketID     string
	serverURL    string
	repoPath     string
	settingsPath string
	promptsDir   string
	authToken    string
}

// runWorker wires the ShutdownCoordinator to supervisor.Run: a SIGINT/SIGTERM
// cancels the supervisor's run context during the services shutdown phase
// (spec §4.1 step 7, "final process cancellation"); the coordinator itself
// waits (bounded by its default timeout) for that phase's handler to
// return before reporting shutdown complete.
func runWorker(ctx context.Context, cfg runConfig) error {
	s, err := settings.Load(cfg.settingsPath)
	if err != nil {
		return err
	}
	logger := newLogger(s.JSONLogging)

	coordinator := infra.NewShutdownCoordinator(30*time.Second, logger)

	runCtx, cancelRun := context.WithCancel(ctx)
	done := make(chan error, 1)

	coordinator.RegisterService("supervisor", func(shutdownCtx context.Context) error {
		cancelRun()
		select {
		case <-done:
		case <-shutdownCtx.Done():
		}
		return nil
	})

	shutdownComplete := coordinator.OnSignal(syscall.SIGINT, syscall.SIGTERM)

	go func() {
		done <- supervisor.Run(runCtx, supervisor.Config{
			TicketID:     cfg.ticketID,
			ServerURL:    cfg.serverURL,
			RepoPath:     cfg.repoPath,
			SettingsPath: cfg.settingsPath,
			PromptsDir:   cfg.promptsDir,
			AuthToken:    cfg.authToken,
			Logger:       logger,
		})
	}()

	select {
	case <-shutdownComplete:
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("worker run: %w", err)
		}
		return nil
	}
}
