// Package subagent implements the sub-agent spawn tool referenced by spec
// §4.4's Planning and Developer tool sets (SPEC_FULL §6 "Sub-agent spawn
// tool"), grounded on the teacher's internal/tools/subagent/spawn.go
// Manager shape (active-count limiting, per-parent bookkeeping) but
// rewritten from the teacher's fire-and-forget background goroutine plus
// poll/cancel tools into a single synchronous tool: it runs a nested,
// depth-limited Conversation to completion and returns its final text
// directly as the tool result, since this system has no session/streaming
// surface for the caller to poll against. Active-count limiting uses
// internal/infra's Semaphore rather than a hand-rolled atomic counter.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/ticketworker/internal/infra"
	"github.com/haasonsaas/ticketworker/internal/llm"
	"github.com/haasonsaas/ticketworker/internal/tool"
)

// maxDepth bounds sub-agent recursion: a sub-agent (Depth 1) may not spawn
// further sub-agents (SPEC_FULL §6: "Depth capped at 1 ... to bound
// recursion").
const maxDepth = 1

// Runner drives nested sub-agent conversations against a fixed tool subset
// and engine, shared across every spawn_subagent call within a process.
type Runner struct {
	engine   *llm.Engine
	registry *tool.Registry
	active   *infra.Semaphore
}

// NewRunner builds a Runner. registry is the tool subset sub-agents may use
// (file/search/shell read-only per SPEC_FULL §6); maxActive bounds how many
// sub-agent conversations may run concurrently (0 defaults to 3, mirroring
// the teacher's Manager default of 5 scaled down for a single-ticket
// worker process).
func NewRunner(engine *llm.Engine, registry *tool.Registry, maxActive int) *Runner {
	if maxActive <= 0 {
		maxActive = 3
	}
	return &Runner{engine: engine, registry: registry, active: infra.NewSemaphore(int64(maxActive))}
}

// ActiveCount reports how many sub-agent conversations are currently
// running.
func (r *Runner) ActiveCount() int {
	return int(r.active.InUse())
}

func (r *Runner) run(ctx context.Context, tc tool.Context, name, task string) (string, error) {
	if tc.Depth >= maxDepth {
		return "", fmt.Errorf("sub-agents cannot spawn further sub-agents")
	}
	if !r.active.TryAcquire(1) {
		return "", fmt.Errorf("max active sub-agents reached (%d)", r.active.Available()+r.active.InUse())
	}
	defer r.active.Release(1)

	systemPrompt := fmt.Sprintf(
		"You are the sub-agent '%s'. Complete the assigned task using the tools available to you, then summarize the outcome in your final response. You have no further sub-agent tools.",
		name,
	)
	conv := llm.NewConversation(uuid.NewString(), systemPrompt, task, llm.NewMemories())

	subTC := tc
	subTC.Depth = tc.Depth + 1

	result := r.engine.Continue(ctx, conv, r.registry, subTC, nil)
	switch result.ExitReason {
	case llm.ExitError:
		return "", fmt.Errorf("sub-agent '%s' errored: %s", name, result.ErrorMessage)
	case llm.ExitCostExceeded:
		return "", fmt.Errorf("sub-agent '%s' exceeded budget before finishing", name)
	default:
		return result.Content, nil
	}
}

// SpawnTool implements spawn_subagent.
type SpawnTool struct {
	runner *Runner
}

// NewSpawnTool builds the spawn_subagent tool over a shared Runner.
func NewSpawnTool(runner *Runner) *SpawnTool {
	return &SpawnTool{runner: runner}
}

func (t *SpawnTool) Name() string { return "spawn_subagent" }
func (t *SpawnTool) Description() string {
	return "Spawn a sub-agent to work on a specific task to completion and return its final result. Sub-agents cannot spawn further sub-agents."
}

type spawnArgs struct {
	Name string `json:"name"`
	Task string `json:"task"`
}

func (t *SpawnTool) Schema() json.RawMessage {
	return tool.DeriveSchema(spawnArgs{}, t.Description())
}

func (t *SpawnTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in spawnArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if in.Name == "" {
		return &tool.Result{IsError: true, Response: "name is required"}, nil
	}
	if in.Task == "" {
		return &tool.Result{IsError: true, Response: "task is required"}, nil
	}

	text, err := t.runner.run(ctx, tc, in.Name, in.Task)
	if err != nil {
		return &tool.Result{IsError: true, Response: err.Error()}, nil
	}
	return &tool.Result{Response: text}, nil
}
