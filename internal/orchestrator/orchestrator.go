// Package orchestrator drives a single active-work invocation through the
// Planning -> Developer -> QA phase machine (spec §4.2), delegating each
// phase's turn execution to the Conversation Engine and emitting
// activity-log entries at every phase boundary. Grounded on the teacher's
// internal/agent.Runtime control-flow style (phase dispatch driven by a
// typed exit condition, activity emission around each step) but
// re-targeted from a streaming multi-channel loop to this system's
// synchronous, ticket-scoped phase machine.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/ticketworker/internal/apiclient"
	"github.com/haasonsaas/ticketworker/internal/errs"
	"github.com/haasonsaas/ticketworker/internal/hub"
	"github.com/haasonsaas/ticketworker/internal/llm"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/ticket"
	"github.com/haasonsaas/ticketworker/internal/tool"
	"github.com/haasonsaas/ticketworker/internal/tools/shell"
)

// stuckNudgeAt and stuckResetAt are the developer-phase stuck-counter
// thresholds' fallback values when settings omit them; settings.Settings
// .ApplyDefaults already fills these in, but the orchestrator falls back
// defensively in case it is constructed against a zero-value Settings.
const (
	stuckNudgeAt = 3
	stuckResetAt = 7
)

// Orchestrator drives one active-work invocation (spec §4.2 Responsibility).
type Orchestrator struct {
	API      *apiclient.Client
	Hub      *hub.Client
	Holder   *ticket.Holder
	Settings *settings.Settings
	Prompts  *settings.Prompts
	Logger   *slog.Logger

	// WorkDir and ShellManager are (re)established at the start of each
	// StartAgents call, since the Supervisor bootstraps a fresh workspace
	// per activation (spec §4.1 step 4).
	WorkDir      string
	ShellManager *shell.Manager

	// PlanningConv is the long-lived planning Conversation (spec §4.1 step
	// 5). The Supervisor builds and publishes it before the ticket ever
	// goes active so the UI can display chat early; runPlanning reuses it
	// across activations rather than discarding it between runs.
	PlanningConv *llm.Conversation

	settingsStore *settingsStore
}

// BuildPlanningConversation creates and stores the long-lived planning
// Conversation ahead of the first active-work invocation, per spec §4.1
// step 5 ("Build the planning Conversation ... and publish it so the UI
// can display chat even before the ticket is active").
func (o *Orchestrator) BuildPlanningConversation() (*llm.Conversation, error) {
	t := o.Holder.Get()
	systemPrompt, err := o.Prompts.Render(settings.RolePlanning, o.substitutionVars())
	if err != nil {
		return nil, err
	}
	userPrompt := fmt.Sprintf("Ticket %s: %s\n\n%s", t.ID, t.Title, t.Description)
	o.PlanningConv = llm.NewConversation("planning-"+t.ID, systemPrompt, userPrompt, llm.NewMemories())
	return o.PlanningConv, nil
}

// NewOrchestrator builds an Orchestrator. settings must already have
// ApplyDefaults called on it.
func NewOrchestrator(api *apiclient.Client, hubClient *hub.Client, holder *ticket.Holder, s *settings.Settings, prompts *settings.Prompts, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		API:           api,
		Hub:           hubClient,
		Holder:        holder,
		Settings:      s,
		Prompts:       prompts,
		Logger:        logger,
		settingsStore: newSettingsStore(s),
	}
}

// ApplySettingsUpdate swaps in a new LLM configuration list (spec §4.3.2,
// triggered by the Hub's settingsUpdated event); the currently running
// Engine call completes against the old config, the next call picks up
// the new one via newEngine's per-call provider snapshot.
func (o *Orchestrator) ApplySettingsUpdate(configs []settings.LLMConfig) {
	o.settingsStore.setLLMConfigs(configs)
}

// StartAgents runs the Planning -> Developer -> QA phase machine to
// completion: success transitions the ticket to done, any blocked/failed
// condition transitions it to failed. It never sets the ticket active
// (spec §4.2 "Final state transition").
func (o *Orchestrator) StartAgents(ctx context.Context, workDir string) error {
	o.WorkDir = workDir
	o.ShellManager = shell.NewManager(workDir)

	if err := o.runPlanning(ctx); err != nil {
		return o.fail(ctx, err)
	}

	memories := llm.NewMemories()
	for _, st := range o.Holder.Get().OrderedSubtasks() {
		if st.Status == ticket.SubtaskComplete {
			continue
		}
		if err := o.runSubtask(ctx, st, memories); err != nil {
			return o.fail(ctx, err)
		}
	}

	return o.succeed(ctx)
}

func (o *Orchestrator) fail(ctx context.Context, cause error) error {
	o.logActivity(ctx, fmt.Sprintf("orchestrator failed: %v", cause))
	if id := o.Holder.ID(); id != "" {
		if updated, err := o.API.UpdateStatus(ctx, id, ticket.StatusFailed); err == nil {
			o.Holder.Set(updated)
		}
	}
	return cause
}

func (o *Orchestrator) succeed(ctx context.Context) error {
	o.logActivity(ctx, "all subtasks complete")
	if id := o.Holder.ID(); id != "" {
		if updated, err := o.API.UpdateStatus(ctx, id, ticket.StatusDone); err == nil {
			o.Holder.Set(updated)
		}
	}
	return nil
}

func (o *Orchestrator) logActivity(ctx context.Context, message string) {
	id := o.Holder.ID()
	if id == "" {
		return
	}
	if err := o.API.PostActivity(ctx, id, message); err != nil {
		o.Logger.Warn("activity log post dropped", "ticketId", id, "error", err)
	}
}

func (o *Orchestrator) substitutionVars() settings.SubstitutionVars {
	return settings.SubstitutionVars{
		RepoDir:     o.WorkDir,
		CurrentDate: time.Now(),
		TicketID:    o.Holder.ID(),
	}
}

func (o *Orchestrator) toolContext(taskID, subtaskID string, memories *llm.Memories) tool.Context {
	return tool.Context{
		Holder:    o.Holder,
		WorkDir:   o.WorkDir,
		API:       o.API,
		TicketID:  o.Holder.ID(),
		TaskID:    taskID,
		SubtaskID: subtaskID,
		WebSearch: webSearchCaller{configured: o.Settings.WebSearch.Configured()},
		Memories:  memories,
	}
}

// webSearchCaller adapts a static configured flag to tool.WebSearchCaller,
// so tools can check whether web search is available without holding a
// reference to settings.WebSearchConfig directly.
type webSearchCaller struct{ configured bool }

func (w webSearchCaller) Configured() bool { return w.configured }

// runPlanning drives the Planning phase until planning_complete is called
// against a ticket with a valid plan, or a fatal condition occurs (spec
// §4.2 Planning phase). If the Supervisor has already built and published a
// long-lived planning Conversation (spec §4.1 step 5), it is reused here so
// chat messages queued against it before the ticket went active are not
// lost; otherwise one is created and retained on the Orchestrator for any
// later re-activation to reuse.
func (o *Orchestrator) runPlanning(ctx context.Context) error {
	t := o.Holder.Get()

	conv := o.PlanningConv
	if conv == nil || conv.Finalized {
		systemPrompt, err := o.Prompts.Render(settings.RolePlanning, o.substitutionVars())
		if err != nil {
			return err
		}
		userPrompt := fmt.Sprintf("Ticket %s: %s\n\n%s", t.ID, t.Title, t.Description)
		conv = llm.NewConversation("planning-"+t.ID, systemPrompt, userPrompt, llm.NewMemories())
		o.PlanningConv = conv
	}

	registry := o.planningRegistry()
	tc := o.toolContext("", "", conv.Memories)

	o.logActivity(ctx, "planning phase started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result := o.newEngine(nil).Continue(ctx, conv, registry, tc, nil)

		switch result.ExitReason {
		case llm.ExitToolRequestedExit:
			if result.FinalToolCalled == "planning_complete" {
				if o.Holder.Get().HasValidPlan() {
					o.logActivity(ctx, "planning complete")
					return nil
				}
				conv.AppendUser("planning_complete was called, but the ticket has no tasks with at least one subtask each yet. Continue planning.")
				continue
			}
			// delete_all_tasks (or any other terminal tool) restarts planning.
			conv.AppendUser("The task list was cleared. Continue planning from scratch.")
			continue

		case llm.ExitCompleted:
			conv.AppendUser("Continue planning. Call planning_complete once every task has at least one subtask.")
			continue

		case llm.ExitMaxIterationsReached:
			conv.ResetIterationCount()
			conv.AppendUser("Continue planning. Call planning_complete once every task has at least one subtask.")
			continue

		case llm.ExitCostExceeded:
			conv.Finalize()
			return o.budgetExceededErr()

		default: // llm.ExitError
			conv.Finalize()
			return fmt.Errorf("planning: %s", result.ErrorMessage)
		}
	}
}

func (o *Orchestrator) budgetExceededErr() error {
	t := o.Holder.Get()
	var maxCost float64
	if t != nil && t.MaxCost != nil {
		maxCost = *t.MaxCost
	}
	spend := 0.0
	if t != nil {
		spend = t.Spend
	}
	return &errs.BudgetExceeded{Spend: spend, MaxCost: maxCost}
}

// runSubtask drives one subtask through Developer then QA, looping on QA
// rejection, until the subtask is approved or a fatal condition occurs
// (spec §4.2 Developer/QA phases). memories is shared and carried forward
// across every subtask of the ticket.
func (o *Orchestrator) runSubtask(ctx context.Context, st *ticket.Subtask, memories *llm.Memories) error {
	if err := o.setSubtaskStatus(ctx, st, ticket.SubtaskInProgress); err != nil {
		return err
	}
	o.logActivity(ctx, fmt.Sprintf("developer phase started: subtask %s", st.Name))

	var qaFeedback string
	for {
		summary, err := o.runDeveloper(ctx, st, memories, qaFeedback)
		if err != nil {
			return err
		}

		approved, feedback, err := o.runQA(ctx, st, summary, memories)
		if err != nil {
			return err
		}
		if approved {
			if err := o.setSubtaskStatus(ctx, st, ticket.SubtaskComplete); err != nil {
				return err
			}
			o.logActivity(ctx, fmt.Sprintf("subtask approved: %s", st.Name))
			return nil
		}

		if err := o.setSubtaskStatus(ctx, st, ticket.SubtaskRejected); err != nil {
			return err
		}
		o.logActivity(ctx, fmt.Sprintf("subtask rejected, returning to development: %s", st.Name))
		st.Status = ticket.SubtaskInProgress
		memories.Add("qa_feedback", feedback)
		qaFeedback = feedback
	}
}

func taskIDFor(t *ticket.Ticket, st *ticket.Subtask) string {
	for _, task := range t.Tasks {
		for _, s := range task.Subtasks {
			if s.ID == st.ID {
				return task.ID
			}
		}
	}
	return ""
}

func (o *Orchestrator) setSubtaskStatus(ctx context.Context, st *ticket.Subtask, status ticket.SubtaskStatus) error {
	t := o.Holder.Get()
	taskID := taskIDFor(t, st)
	updated, err := o.API.UpdateSubtaskStatus(ctx, t.ID, taskID, st.ID, status)
	if err != nil {
		return fmt.Errorf("update subtask status: %w", err)
	}
	o.Holder.Set(updated)
	st.Status = status
	return nil
}

// runDeveloper drives the Developer phase for one subtask to an
// end_subtask call, returning the developer's summary. It discards any
// prior developer conversation for this subtask and constructs a fresh
// one each time it is entered (once per runSubtask loop iteration),
// sharing memories across subtasks and QA rounds (spec §4.2 Developer
// phase). qaFeedback is the previous QA round's rejection feedback, if
// any, and is injected into the opening user message so the developer
// sees it as a turn rather than only via the Memories section (spec §4.2:
// "if rejected, loop with QA feedback injected as user message").
func (o *Orchestrator) runDeveloper(ctx context.Context, st *ticket.Subtask, memories *llm.Memories, qaFeedback string) (string, error) {
	systemPrompt, err := o.Prompts.Render(settings.RoleDeveloper, o.substitutionVars())
	if err != nil {
		return "", err
	}
	userPrompt := fmt.Sprintf("Subtask: %s\n\n%s", st.Name, st.Description)
	if qaFeedback != "" {
		userPrompt += fmt.Sprintf("\n\nQA rejected the previous attempt with this feedback, address it:\n%s", qaFeedback)
	}

	t := o.Holder.Get()
	taskID := taskIDFor(t, st)
	registry := o.developerRegistry()
	tc := o.toolContext(taskID, st.ID, memories)

	conv := llm.NewConversation("developer-"+st.ID+"-"+uuid.NewString(), systemPrompt, userPrompt, memories)
	stuckCounter := 0

	for {
		if err := ctx.Err(); err != nil {
			conv.Finalize()
			return "", err
		}

		engine := o.newEngine(nil)
		result := engine.Continue(ctx, conv, registry, tc, nil)

		switch result.ExitReason {
		case llm.ExitToolRequestedExit:
			if result.FinalToolCalled == "end_subtask" {
				if err := engine.CompactNow(ctx, conv); err != nil {
					o.logActivity(ctx, "compaction warning: "+err.Error())
				}
				conv.Finalize()
				return result.Content, nil
			}
			conv.AppendUser("Unexpected terminal tool call; continue working on the subtask, then call end_subtask with a summary.")
			continue

		case llm.ExitCompleted, llm.ExitMaxIterationsReached:
			if result.ExitReason == llm.ExitMaxIterationsReached {
				conv.ResetIterationCount()
			}
			stuckCounter++
			if stuckCounter >= o.contextResetAt() {
				conv.Finalize()
				conv = llm.ResetWithMemories("developer-"+st.ID+"-"+uuid.NewString(), systemPrompt, userPrompt, memories)
				stuckCounter = 0
				o.logActivity(ctx, "developer context reset after repeated stalls")
				continue
			}
			if stuckCounter >= o.nudgeAt() {
				conv.AppendUser("You appear stuck. Reassess your progress against the subtask description, then continue or call end_subtask.")
			}
			continue

		case llm.ExitCostExceeded:
			conv.Finalize()
			return "", o.budgetExceededErr()

		default: // llm.ExitError
			conv.Finalize()
			return "", fmt.Errorf("developer: %s", result.ErrorMessage)
		}
	}
}

func (o *Orchestrator) nudgeAt() int {
	if o.Settings.StuckCounter.NudgeAt > 0 {
		return o.Settings.StuckCounter.NudgeAt
	}
	return stuckNudgeAt
}

func (o *Orchestrator) contextResetAt() int {
	if o.Settings.StuckCounter.ContextResetAt > 0 {
		return o.Settings.StuckCounter.ContextResetAt
	}
	return stuckResetAt
}

// runQA drives the QA phase for one end-of-subtask review, returning
// (approved, feedback-or-notes, error) (spec §4.2 QA phase).
func (o *Orchestrator) runQA(ctx context.Context, st *ticket.Subtask, developerSummary string, memories *llm.Memories) (bool, string, error) {
	systemPrompt, err := o.Prompts.Render(settings.RoleQualityAssure, o.substitutionVars())
	if err != nil {
		return false, "", err
	}
	userPrompt := fmt.Sprintf("Subtask: %s\n\n%s\n\nDeveloper summary:\n%s", st.Name, st.Description, developerSummary)

	t := o.Holder.Get()
	taskID := taskIDFor(t, st)
	registry := o.qaRegistry()
	tc := o.toolContext(taskID, st.ID, memories)

	conv := llm.NewConversation("qa-"+st.ID+"-"+uuid.NewString(), systemPrompt, userPrompt, memories)
	nudged := false

	for {
		if err := ctx.Err(); err != nil {
			conv.Finalize()
			return false, "", err
		}

		engine := o.newEngine(nil)
		result := engine.Continue(ctx, conv, registry, tc, nil)

		switch result.ExitReason {
		case llm.ExitToolRequestedExit:
			conv.Finalize()
			switch result.FinalToolCalled {
			case "approve_subtask":
				return true, result.Content, nil
			case "reject_subtask":
				return false, result.Content, nil
			default:
				return false, "QA exited without a review decision", nil
			}

		case llm.ExitCompleted, llm.ExitMaxIterationsReached:
			if result.ExitReason == llm.ExitMaxIterationsReached {
				conv.ResetIterationCount()
			}
			if nudged {
				conv.Finalize()
				return false, "QA could not reach a decision after one nudge; returning to development", nil
			}
			nudged = true
			conv.AppendUser("Reach a decision: call approve_subtask or reject_subtask.")
			continue

		case llm.ExitCostExceeded:
			conv.Finalize()
			return false, "QA could not complete review: ticket budget exceeded", nil

		default: // llm.ExitError
			conv.Finalize()
			return false, "", fmt.Errorf("qa: %s", result.ErrorMessage)
		}
	}
}
