package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/ticketworker/internal/doctor"
)

// buildDoctorCmd creates the "doctor" command for validating a worker's
// settings, prompts, and control-plane reachability before it is pointed
// at a real ticket.
func buildDoctorCmd() *cobra.Command {
	var (
		settingsPath string
		promptsDir   string
		serverURL    string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate settings, prompts, and control-plane reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, settingsPath, promptsDir, serverURL)
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", "settings.json", "Path to the worker's JSON settings file")
	cmd.Flags().StringVar(&promptsDir, "prompts", "./prompts", "Directory containing the per-role prompt files")
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Control plane base URL to probe")

	return cmd
}

func runDoctor(cmd *cobra.Command, settingsPath, promptsDir, serverURL string) error {
	report := doctor.Run(cmd.Context(), doctor.Config{
		SettingsPath: settingsPath,
		PromptsDir:   promptsDir,
		ServerURL:    serverURL,
	})

	for _, check := range report.Checks {
		status := "OK"
		if !check.Healthy {
			status = "FAIL"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %-10s %s\n", status, check.Name, check.Message)
	}

	if !report.Healthy() {
		return fmt.Errorf("doctor: one or more checks failed")
	}
	return nil
}
