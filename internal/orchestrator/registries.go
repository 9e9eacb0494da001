package orchestrator

import (
	"github.com/haasonsaas/ticketworker/internal/llm"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/tool"
	"github.com/haasonsaas/ticketworker/internal/tools/file"
	"github.com/haasonsaas/ticketworker/internal/tools/memory"
	"github.com/haasonsaas/ticketworker/internal/tools/phase"
	"github.com/haasonsaas/ticketworker/internal/tools/search"
	"github.com/haasonsaas/ticketworker/internal/tools/shell"
	"github.com/haasonsaas/ticketworker/internal/tools/subagent"
	"github.com/haasonsaas/ticketworker/internal/tools/ticketmutation"
	"github.com/haasonsaas/ticketworker/internal/tools/web"
)

// readWriteTools returns the shell/file/search/web/memory tools common to
// every phase's tool set (spec §4.4 Tool sets by role). The persistent
// shell tool shares the orchestrator's single Manager, which keys
// sessions by ticket+subtask internally, so sessions survive across
// phase transitions within one active-work invocation.
func (o *Orchestrator) readWriteTools() []tool.Tool {
	tools := []tool.Tool{
		shell.NewRunTool(o.WorkDir),
		shell.NewPersistentTool(o.ShellManager),
		file.NewReadTool(o.WorkDir),
		file.NewWriteTool(o.WorkDir),
		file.NewEditTool(o.WorkDir),
		file.NewLsTool(o.WorkDir),
		search.NewGlobTool(o.WorkDir),
		search.NewGrepTool(o.WorkDir),
		memory.NewAddTool(),
		memory.NewRemoveTool(),
	}
	if w := web.NewSearchTool(o.Settings.WebSearch); w != nil {
		tools = append(tools, w)
	}
	return tools
}

// subagentRegistry builds the restricted tool set a spawned sub-agent may
// use: shell and file/search tools plus web search, but no ticket
// mutation, memory, shell persistence, or further sub-agent spawn
// (SPEC_FULL §6 "depth capped at 1").
func (o *Orchestrator) subagentRegistry() *tool.Registry {
	tools := []tool.Tool{
		shell.NewRunTool(o.WorkDir),
		file.NewReadTool(o.WorkDir),
		file.NewWriteTool(o.WorkDir),
		file.NewEditTool(o.WorkDir),
		file.NewLsTool(o.WorkDir),
		search.NewGlobTool(o.WorkDir),
		search.NewGrepTool(o.WorkDir),
	}
	if w := web.NewSearchTool(o.Settings.WebSearch); w != nil {
		tools = append(tools, w)
	}
	return tool.NewRegistryWith(tools...)
}

// buildSubagentSpawnTool wires a fresh sub-agent Runner sharing the same
// spend tracking as the parent phase, since sub-agent LLM calls still
// draw against the ticket's budget. A Runner is cheap (no persistent
// state beyond an active-count counter) so building one per registry
// keeps each phase's concurrency budget independent.
func (o *Orchestrator) buildSubagentSpawnTool() tool.Tool {
	runner := subagent.NewRunner(o.newEngine(nil), o.subagentRegistry(), 0)
	return subagent.NewSpawnTool(runner)
}

// planningRegistry builds the Planning phase's tool set (spec §4.2/§4.4):
// shell(+persistent), file, search, ticket mutation, web (if configured),
// memory, sub-agent spawn, and the planning_complete terminal tool.
func (o *Orchestrator) planningRegistry() *tool.Registry {
	tools := o.readWriteTools()
	tools = append(tools,
		ticketmutation.NewAddTaskTool(o.API),
		ticketmutation.NewAddSubtaskTool(o.API),
		ticketmutation.NewUpdateSubtaskTool(o.API),
		ticketmutation.NewDeleteAllTasksTool(o.API),
		o.buildSubagentSpawnTool(),
		phase.NewPlanningCompleteTool(),
	)
	return tool.NewRegistryWith(tools...)
}

// developerRegistry builds the Developer phase's tool set: shell, file,
// search, web, memory, sub-agent spawn, end_subtask.
func (o *Orchestrator) developerRegistry() *tool.Registry {
	tools := o.readWriteTools()
	tools = append(tools,
		o.buildSubagentSpawnTool(),
		phase.NewEndSubtaskTool(),
	)
	return tool.NewRegistryWith(tools...)
}

// qaRegistry builds the QA phase's tool set: read/write-capable shell,
// file, search, web tools (writes are permitted but discouraged by
// prompt, spec §4.2 QA phase) plus memory and the two review terminal
// tools. No sub-agent spawn: QA only reviews, it does not delegate work.
func (o *Orchestrator) qaRegistry() *tool.Registry {
	tools := o.readWriteTools()
	tools = append(tools,
		phase.NewApproveSubtaskTool(),
		phase.NewRejectSubtaskTool(),
	)
	return tool.NewRegistryWith(tools...)
}

// newEngine builds a fresh Engine against the orchestrator's current
// settings snapshot, so a settingsUpdated event (spec §4.3.2) is picked
// up by the next phase-loop iteration's Continue call without needing to
// mutate a long-lived Engine's provider list mid-flight. Passing a nil
// compaction getter defaults to the orchestrator's own settingsStore.
func (o *Orchestrator) newEngine(compaction llm.CompactionModeGetter) *llm.Engine {
	providers := o.settingsStore.providers()
	engine := llm.NewEngine(providers,
		&spendTracker{api: o.API, holder: o.Holder},
		&snapshotPublisher{client: o.Hub},
		&activityLogger{api: o.API, holder: o.Holder, fallback: o.Logger},
	)
	if compaction == nil {
		compaction = o.settingsStore
	}
	engine.CompactionMode = compaction
	engine.CompactionPercent = o.Settings.Compaction.ContextSizePercent
	if prompt, err := o.Prompts.Render(settings.RoleCompaction, o.substitutionVars()); err == nil {
		engine.CompactionPrompt = prompt
	}
	return engine
}
