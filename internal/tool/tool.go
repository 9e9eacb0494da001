// Package tool defines the Tool contract and execution context shared by
// every tool implementation (spec §3 Tool/ToolResult, §4.4 Tool Registry),
// grounded on the teacher's internal/agent.Tool interface shape
// (provider_types.go) but adapted to take a ToolContext carrying read-only
// references to the ticket holder, workspace path, and subtask identity
// instead of a bare context.Context.
package tool

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/haasonsaas/ticketworker/internal/apiclient"
	"github.com/haasonsaas/ticketworker/internal/ticket"
)

// ResponseCharCap is the fixed truncation cap for tool result text (spec
// §4.4 Schema generation rules: "Response truncation constant: 160 000
// characters max").
const ResponseCharCap = 160000

// Tool is the contract every LLM-callable function implements.
type Tool interface {
	// Name is the stable snake_case identifier the LLM uses to call this
	// tool.
	Name() string

	// Description is shown to the LLM so it can decide when to call this
	// tool.
	Description() string

	// Schema is the JSON Schema describing this tool's parameters, derived
	// per the rules in spec §4.4.
	Schema() json.RawMessage

	// Execute runs the tool against the given arguments and context.
	Execute(ctx context.Context, tc Context, args json.RawMessage) (*Result, error)
}

// Result is the outcome of a tool execution (spec §3 ToolResult).
type Result struct {
	// Response is the text returned to the conversation as a tool-role
	// message.
	Response string

	// IsFinal signals the Conversation Engine to exit its turn loop with
	// tool_requested_exit (spec §3, "Terminal tool").
	IsFinal bool

	// FinalToolName names the terminal tool that triggered IsFinal, used
	// by the orchestrator to interpret the exit (e.g. "end_subtask",
	// "approve_subtask").
	FinalToolName string

	// IsError marks this result as an error outcome; it is still delivered
	// as ordinary tool-role text (spec §7, "ToolError ... never aborts the
	// turn loop").
	IsError bool
}

// Context carries the read-only references a tool handler needs: the
// current ticket holder, workspace path, API client, and subtask identity
// (spec §3 Ownership: "The Tool context is a value carrying read-only
// references ... plus the current Subtask identity").
type Context struct {
	Holder     *ticket.Holder
	WorkDir    string
	API        *apiclient.Client
	TicketID   string
	TaskID     string
	SubtaskID  string
	WebSearch  WebSearchCaller
	Memories   MemoryStore

	// Depth counts sub-agent nesting: 0 for the top-level planning/developer/
	// QA conversation, 1 inside a spawned sub-agent. Sub-agent spawn tools
	// refuse to run when Depth >= 1 (SPEC_FULL §6 "depth capped at 1").
	Depth int
}

// WebSearchCaller is implemented by internal/tools/web; declared here to
// avoid an import cycle between tool and tools/web when other tools (e.g.
// sub-agent spawn) need to check whether web search is configured.
type WebSearchCaller interface {
	Configured() bool
}

// MemoryStore is implemented by internal/llm.Memories; declared here to
// avoid an import cycle between tool (which internal/llm depends on) and
// internal/llm itself.
type MemoryStore interface {
	Add(label, text string)
	Remove(label, prefix string) bool
}

// Truncate enforces ResponseCharCap, appending an omission marker when the
// input is too long (spec §4.3 step 8, §8 boundary behaviour for
// TruncateResponse).
func Truncate(s string) string {
	if len(s) <= ResponseCharCap {
		return s
	}
	omitted := len(s) - ResponseCharCap
	return s[:ResponseCharCap] + "\n... [" + strconv.Itoa(omitted) + " characters omitted]"
}
