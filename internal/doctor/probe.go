// Package doctor implements the checks behind `worker doctor`: validating
// that a worker's settings file, prompt directory, and control-plane
// reachability are all sound before it is pointed at a real ticket.
// Grounded on the teacher's probe.go sorted-results shape, re-targeted
// from channel-adapter health checks to this worker's own dependencies.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/haasonsaas/ticketworker/internal/infra"
	"github.com/haasonsaas/ticketworker/internal/settings"
)

// CheckStatus is the outcome of a single probe.
type CheckStatus struct {
	Name    string
	Healthy bool
	Message string
}

// Report is the sorted, ordered result of running every check.
type Report struct {
	Checks []CheckStatus
}

// Healthy reports whether every check in the report passed.
func (r Report) Healthy() bool {
	for _, c := range r.Checks {
		if !c.Healthy {
			return false
		}
	}
	return true
}

// Config carries the inputs doctor checks against.
type Config struct {
	SettingsPath string
	PromptsDir   string
	ServerURL    string
}

// Run executes every probe through an infra.HealthCheckRegistry (SPEC_FULL
// §3 infra wiring) and returns a sorted Report. Using the registry instead
// of three bare function calls gets doctor the same per-check timeout and
// critical/degraded classification every other managed subsystem gets, and
// runs the checks concurrently rather than sequentially.
func Run(ctx context.Context, cfg Config) Report {
	registry := infra.NewHealthCheckRegistry()
	registry.RegisterSimple("settings", func(context.Context) error {
		_, err := settings.Load(cfg.SettingsPath)
		return err
	})
	registry.RegisterSimple("prompts", func(context.Context) error {
		p, err := settings.LoadPrompts(cfg.PromptsDir)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("no prompts loaded")
		}
		return nil
	})
	registry.Register(infra.HealthCheckConfig{
		Name:     "server",
		Timeout:  5 * time.Second,
		Critical: true,
		Checker:  func(checkCtx context.Context) infra.HealthCheckResult { return probeServer(checkCtx, cfg.ServerURL) },
	})

	report := registry.CheckAll(ctx)
	checks := make([]CheckStatus, len(report.Checks))
	for i, r := range report.Checks {
		checks[i] = CheckStatus{Name: r.Name, Healthy: r.Status == infra.ServiceHealthHealthy, Message: r.Message}
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return Report{Checks: checks}
}

// probeServer checks that the control plane's HTTP surface answers at all;
// it does not attempt the websocket handshake (that requires a ticket id
// and an auth token doctor is not necessarily given). The registry applies
// its own timeout around checkCtx, so this does not set one itself.
func probeServer(checkCtx context.Context, serverURL string) infra.HealthCheckResult {
	if serverURL == "" {
		return infra.HealthCheckResult{Status: infra.ServiceHealthUnhealthy, Message: "no server URL configured"}
	}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, serverURL, nil)
	if err != nil {
		return infra.HealthCheckResult{Status: infra.ServiceHealthUnhealthy, Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return infra.HealthCheckResult{Status: infra.ServiceHealthUnhealthy, Message: err.Error()}
	}
	defer resp.Body.Close()
	return infra.HealthCheckResult{Status: infra.ServiceHealthHealthy, Message: fmt.Sprintf("reachable (status %d)", resp.StatusCode)}
}
