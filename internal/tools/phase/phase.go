// Package phase implements the terminal tools that end a Conversation
// Engine turn loop with tool_requested_exit, one per orchestrator phase
// (spec §4.2): planning_complete, end_subtask, approve_subtask,
// reject_subtask. Grounded on the ticketmutation package's pattern of
// thin tools forwarding to the ticket Holder/API client, since these
// tools are themselves ticket-mutating at the boundary between phases.
package phase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// PlanningCompleteTool marks planning finished. The Engine exit condition
// additionally requires the ticket to carry a valid plan (spec §4.2
// "Exit condition: planning_complete final tool and the ticket has a
// valid plan"); that check belongs to the orchestrator, not this tool,
// since only the orchestrator sees the Engine's LlmResult.
type PlanningCompleteTool struct{}

func NewPlanningCompleteTool() *PlanningCompleteTool { return &PlanningCompleteTool{} }

func (t *PlanningCompleteTool) Name() string { return "planning_complete" }

func (t *PlanningCompleteTool) Description() string {
	return "Signal that the plan (tasks and subtasks) for this ticket is complete and ready for development."
}

type planningCompleteArgs struct{}

func (t *PlanningCompleteTool) Schema() json.RawMessage {
	return tool.DeriveSchema(planningCompleteArgs{}, t.Description())
}

func (t *PlanningCompleteTool) Execute(_ context.Context, _ tool.Context, _ json.RawMessage) (*tool.Result, error) {
	return &tool.Result{Response: "planning complete", IsFinal: true, FinalToolName: t.Name()}, nil
}

// EndSubtaskTool ends a developer-phase conversation and hands off to QA
// with the developer's summary of what was done.
type EndSubtaskTool struct{}

func NewEndSubtaskTool() *EndSubtaskTool { return &EndSubtaskTool{} }

func (t *EndSubtaskTool) Name() string { return "end_subtask" }

func (t *EndSubtaskTool) Description() string {
	return "Signal that work on the current subtask is finished, handing off to QA review with a summary of what changed."
}

type endSubtaskArgs struct {
	Summary string `json:"summary"`
}

func (t *EndSubtaskTool) Schema() json.RawMessage {
	return tool.DeriveSchema(endSubtaskArgs{}, t.Description())
}

func (t *EndSubtaskTool) Execute(_ context.Context, _ tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in endSubtaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("end_subtask: invalid arguments: %w", err)
	}
	if in.Summary == "" {
		return &tool.Result{Response: "Error: summary is required", IsError: true}, nil
	}
	return &tool.Result{Response: in.Summary, IsFinal: true, FinalToolName: t.Name()}, nil
}

// ApproveSubtaskTool marks a subtask complete from the QA phase.
type ApproveSubtaskTool struct{}

func NewApproveSubtaskTool() *ApproveSubtaskTool { return &ApproveSubtaskTool{} }

func (t *ApproveSubtaskTool) Name() string { return "approve_subtask" }

func (t *ApproveSubtaskTool) Description() string {
	return "Approve the subtask's completed work, marking it complete."
}

type approveSubtaskArgs struct {
	Notes string `json:"notes"`
}

func (t *ApproveSubtaskTool) Schema() json.RawMessage {
	return tool.DeriveSchema(approveSubtaskArgs{}, t.Description())
}

func (t *ApproveSubtaskTool) Execute(_ context.Context, _ tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in approveSubtaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("approve_subtask: invalid arguments: %w", err)
	}
	return &tool.Result{Response: in.Notes, IsFinal: true, FinalToolName: t.Name()}, nil
}

// RejectSubtaskTool sends the subtask back to the developer phase with
// feedback.
type RejectSubtaskTool struct{}

func NewRejectSubtaskTool() *RejectSubtaskTool { return &RejectSubtaskTool{} }

func (t *RejectSubtaskTool) Name() string { return "reject_subtask" }

func (t *RejectSubtaskTool) Description() string {
	return "Reject the subtask's work and send it back to development with feedback on what must change."
}

type rejectSubtaskArgs struct {
	Feedback string `json:"feedback"`
}

func (t *RejectSubtaskTool) Schema() json.RawMessage {
	return tool.DeriveSchema(rejectSubtaskArgs{}, t.Description())
}

func (t *RejectSubtaskTool) Execute(_ context.Context, _ tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in rejectSubtaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("reject_subtask: invalid arguments: %w", err)
	}
	if in.Feedback == "" {
		return &tool.Result{Response: "Error: feedback is required", IsError: true}, nil
	}
	return &tool.Result{Response: in.Feedback, IsFinal: true, FinalToolName: t.Name()}, nil
}
