// Package supervisor implements the worker's process-level entrypoint
// (spec §4.1): a one-shot process bound to a single ticket id that
// maintains a reactive outer loop — wait for a ticket-changed signal or a
// queued chat/clear/settings message, enter an active-work scope whenever
// the ticket is active, and tear it down on cancellation or completion —
// until the process itself is cancelled. Grounded on the teacher's
// internal/infra/lifecycle.go start/stop shape and
// golang.org/x/sync/errgroup for the bounded active-work goroutine, since
// this repo replaces the teacher's always-on agent runtime with a
// signal-driven single-ticket loop.
package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/ticketworker/internal/apiclient"
	"github.com/haasonsaas/ticketworker/internal/errs"
	"github.com/haasonsaas/ticketworker/internal/hub"
	"github.com/haasonsaas/ticketworker/internal/infra"
	"github.com/haasonsaas/ticketworker/internal/llm"
	"github.com/haasonsaas/ticketworker/internal/orchestrator"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/ticket"
	"github.com/haasonsaas/ticketworker/internal/workspace"
)

// ticketPollInterval bounds how often step 3 re-checks for the ticket's
// existence when no change signal arrives (belt-and-braces alongside
// hub.Client's push-driven WaitForTicketChange).
const ticketPollInterval = 5 * time.Second

// Config carries the one-shot process's fixed inputs (spec §4.1 Public
// contract: "Run(ticketId, serverURL, repoPath)").
type Config struct {
	TicketID     string
	ServerURL    string
	RepoPath     string
	SettingsPath string
	PromptsDir   string
	AuthToken    string
	Logger       *slog.Logger
}

// Run blocks until ctx is cancelled, maintaining the reactive outer loop
// described in spec §4.1. A failing orchestrator run moves the ticket to
// failed and logs activity; it does not return — the supervisor keeps
// polling for the next activation (spec §4.1 Failure semantics).
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "supervisor", "ticketId", cfg.TicketID)

	// Step 1: load settings and prompts.
	s, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		return err
	}
	prompts, err := settings.LoadPrompts(cfg.PromptsDir)
	if err != nil {
		return err
	}

	holder := ticket.NewHolder(nil)
	api := apiclient.New(cfg.ServerURL, cfg.AuthToken)

	// Step 2: establish the Hub Client and subscribe to the ticket id.
	hubClient := hub.NewClient(cfg.ServerURL, cfg.AuthToken, holder)
	if err := hubClient.Connect(ctx, cfg.TicketID); err != nil {
		return &errs.FatalError{Message: "could not establish hub connection", Cause: err}
	}
	logger.Info("hub connected")

	// Step 3: wait for the ticket to exist remotely. Not-found is patient.
	if err := waitForTicket(ctx, api, hubClient, holder, cfg.TicketID, logger); err != nil {
		return err
	}

	// Step 4: bootstrap the workspace.
	result, err := workspace.Bootstrap(ctx, s.GitConfig, cfg.RepoPath, cfg.TicketID)
	if err != nil {
		return err
	}
	logger.Info("workspace bootstrapped", "branch", result.Branch, "created", result.BranchCreated)
	if result.BranchCreated && holder.Get().Branch == "" {
		if updated, err := api.UpdateBranch(ctx, cfg.TicketID, result.Branch); err != nil {
			logger.Warn("failed to publish branch name", "error", err)
		} else {
			holder.Set(updated)
		}
	}

	o := orchestrator.NewOrchestrator(api, hubClient, holder, s, prompts, logger)
	o.WorkDir = result.Path

	// Step 5: build the long-lived planning Conversation and publish it.
	planningConv, err := o.BuildPlanningConversation()
	if err != nil {
		return err
	}
	if err := publishSnapshot(ctx, hubClient, planningConv); err != nil {
		logger.Warn("failed to publish initial planning conversation", "error", err)
	}

	// Step 6: the reactive loop.
	runReactiveLoop(ctx, o, hubClient, holder, logger)

	// Step 7: final process cancellation — finalize the live conversation
	// and disconnect. Commit+push of any outstanding workspace changes is
	// the Developer phase's own responsibility as it edits the tree
	// (shell/file tools operate directly in the workspace); the supervisor
	// itself holds no uncommitted state to push.
	planningConv.Finalize()
	_ = hubClient.FinishConversation(context.Background(), planningConv.ID)
	return nil
}

// waitForTicket implements step 3: poll until the ticket exists, woken by
// either a Hub change signal or a plain timer (spec §4.1 step 3, Failure
// semantics: "Ticket-not-found at step 3 is patient").
func waitForTicket(ctx context.Context, api *apiclient.Client, hubClient *hub.Client, holder *ticket.Holder, ticketID string, logger *slog.Logger) error {
	for {
		t, err := api.GetTicket(ctx, ticketID)
		if err == nil && t != nil {
			holder.Set(t)
			return nil
		}
		logger.Debug("ticket not yet found, waiting", "error", err)

		timer := time.NewTimer(ticketPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-waitForTicketChangeCh(ctx, hubClient):
			timer.Stop()
		}
	}
}

// waitForTicketChangeCh adapts hub.Client.WaitForTicketChange into a
// channel usable in a select alongside a timer.
func waitForTicketChangeCh(ctx context.Context, hubClient *hub.Client) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		if hubClient.WaitForTicketChange(ctx) == nil {
			close(ch)
		}
	}()
	return ch
}

// publishSnapshot mirrors adapters.snapshotPublisher's wire shape so the
// planning Conversation is visible in the UI before the Engine ever runs a
// turn against it (spec §4.1 step 5).
func publishSnapshot(ctx context.Context, hubClient *hub.Client, conv *llm.Conversation) error {
	snapshot, err := json.Marshal(struct {
		Messages []llm.Message `json:"messages"`
	}{Messages: conv.Messages})
	if err != nil {
		return err
	}
	return hubClient.SyncConversation(ctx, conv.ID, snapshot)
}

// runReactiveLoop implements step 6: wait for a wake signal, and on a
// ticket change enter an active-work scope bound to both the process
// context and the "ticket left active" event (spec §4.1 step 6,
// "Concurrent active-work instances are forbidden"). The active-work scope
// itself is managed as an infra.FullLifecycleComponent (SPEC_FULL §3
// infra.ComponentManager wiring) rather than bare errgroup bookkeeping, so
// its running/stopped state is reported the same way the teacher tracks
// every other managed subsystem.
func runReactiveLoop(ctx context.Context, o *orchestrator.Orchestrator, hubClient *hub.Client, holder *ticket.Holder, logger *slog.Logger) {
	active := newActiveWorkComponent(o, logger)
	manager := infra.NewComponentManager(logger)
	manager.Register(active)

	stopActive := func() {
		if err := manager.Stop(ctx); err != nil {
			logger.Warn("active-work scope stop reported errors", "error", err)
		}
	}
	defer stopActive()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		waitCh := waitForTicketChangeCh(ctx, hubClient)
		chatCh := pollQueues(hubClient, o)

		select {
		case <-ctx.Done():
			return
		case <-waitCh:
		case <-chatCh:
		}

		routeQueuedMessages(ctx, hubClient, o, logger)
		routePlanningChat(hubClient, o)

		t := holder.Get()
		if t == nil {
			continue
		}

		if t.Status == ticket.StatusActive {
			if active.Health(ctx).State == infra.ServiceHealthHealthy {
				// Already running; nothing to do until it tears down.
				continue
			}
			if err := manager.Start(ctx); err != nil {
				logger.Warn("active-work scope failed to start", "error", err)
				continue
			}
			hubClient.SetActiveWorkCancel(active.Cancel)
		} else {
			stopActive()
		}
	}
}

// activeWorkComponent adapts the supervisor's active-work scope (spec
// §4.1 step 6) into an infra.FullLifecycleComponent: Start launches the
// orchestrator's agent run in a cancellable errgroup, Stop tears it down
// and waits for it to exit, and Health reports whether a run is currently
// in flight. Registered once per process and Started/Stopped across
// however many activation cycles the ticket goes through.
type activeWorkComponent struct {
	*infra.BaseComponent
	o      *orchestrator.Orchestrator
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func newActiveWorkComponent(o *orchestrator.Orchestrator, logger *slog.Logger) *activeWorkComponent {
	return &activeWorkComponent{
		BaseComponent: infra.NewBaseComponent("active-work", logger),
		o:             o,
		logger:        logger,
	}
}

// Start implements infra.Lifecycle. Idempotent: a second call while a run
// is already in flight is a no-op.
func (c *activeWorkComponent) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	activeCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(activeCtx)
	c.cancel = cancel
	c.group = g
	g.Go(func() error {
		if err := c.o.StartAgents(gctx, c.o.WorkDir); err != nil {
			c.logger.Warn("orchestrator run ended", "error", err)
		}
		return nil
	})
	c.MarkStarted()
	return nil
}

// Stop implements infra.Lifecycle: cancel the run and wait for its
// goroutine to return before reporting stopped.
func (c *activeWorkComponent) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, group := c.cancel, c.group
	c.cancel, c.group = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if group != nil {
		_ = group.Wait()
	}
	c.MarkStopped()
	return nil
}

// Health implements infra.ComponentHealthChecker.
func (c *activeWorkComponent) Health(_ context.Context) infra.ComponentHealth {
	c.mu.Lock()
	running := c.cancel != nil
	c.mu.Unlock()
	if running {
		return infra.ComponentHealth{State: infra.ServiceHealthHealthy, Message: "active-work scope running"}
	}
	return infra.ComponentHealth{State: infra.ServiceHealthUnknown, Message: "idle"}
}

// Cancel tears down the current (or most recently started) active-work
// scope; wired into hub.Client.SetActiveWorkCancel so an external reset
// event can stop a run without waiting for the next reactive-loop tick.
func (c *activeWorkComponent) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

var _ infra.FullLifecycleComponent = (*activeWorkComponent)(nil)

// pollQueues returns a channel that closes as soon as any of the Hub's
// queued chat/clear/settings messages has content, so the reactive loop's
// select wakes on either signal source (spec §4.1 step 6).
func pollQueues(hubClient *hub.Client, o *orchestrator.Orchestrator) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		planningChatLen := 0
		if o.PlanningConv != nil {
			planningChatLen = hubClient.GetChatQueue(o.PlanningConv.ID).Len()
		}
		if hubClient.GetClearQueue().Len() > 0 || hubClient.GetSettingsQueue().Len() > 0 || planningChatLen > 0 {
			return
		}
		<-time.After(ticketPollInterval)
	}()
	return ch
}

// routeQueuedMessages drains clear/settings events (spec §4.3.2).
func routeQueuedMessages(ctx context.Context, hubClient *hub.Client, o *orchestrator.Orchestrator, logger *slog.Logger) {
	for range hubClient.GetClearQueue().Drain() {
		if o.PlanningConv != nil {
			o.PlanningConv.Clear()
		}
	}
	for _, configs := range hubClient.GetSettingsQueue().Drain() {
		o.ApplySettingsUpdate(configs)
		logger.Info("applied settings update", "llmConfigCount", len(configs))
	}
}

// routePlanningChat appends any queued user chat messages addressed to the
// long-lived planning Conversation so they surface as ordinary user turns
// the next time the Planning phase (or an idle re-publish) runs.
func routePlanningChat(hubClient *hub.Client, o *orchestrator.Orchestrator) {
	if o.PlanningConv == nil {
		return
	}
	for _, msg := range hubClient.GetChatQueue(o.PlanningConv.ID).Drain() {
		o.PlanningConv.AppendUser(msg.Text)
	}
}
