package llm

import "fmt"

// Conversation is a single LLM dialogue (spec §3 Conversation). The
// planning conversation is long-lived for the ticket; developer and QA
// conversations are per-subtask and discarded after hoisting memories.
type Conversation struct {
	ID           string
	SystemPrompt string
	Messages     []Message
	Memories     *Memories
	Finalized    bool

	// iterationCount tracks per-call tool-call iterations for the
	// max-iterations-reached exit condition (spec §4.3 step 10). It is
	// reset whenever the orchestrator resets context (spec §4.2 Developer
	// phase, stuck-counter at 7).
	iterationCount int
}

// NewConversation seeds a fresh Conversation with its system and initial
// user message (spec §8 invariant: "messages[0].role == system").
func NewConversation(id, systemPrompt, initialUserMessage string, memories *Memories) *Conversation {
	if memories == nil {
		memories = NewMemories()
	}
	c := &Conversation{
		ID:           id,
		SystemPrompt: systemPrompt,
		Memories:     memories,
	}
	c.Messages = append(c.Messages, Message{Role: RoleSystem, Content: systemPrompt})
	if initialUserMessage != "" {
		c.Messages = append(c.Messages, Message{Role: RoleUser, Content: initialUserMessage})
	}
	return c
}

// AppendUser appends a user-role message, used to inject queued chat or a
// developer/QA nudge.
func (c *Conversation) AppendUser(content string) {
	c.Messages = append(c.Messages, Message{Role: RoleUser, Content: content})
}

// AppendAssistant appends an assistant-role message, optionally carrying
// tool calls.
func (c *Conversation) AppendAssistant(content string, calls []ToolCall) {
	c.Messages = append(c.Messages, Message{Role: RoleAssistant, Content: content, ToolCalls: calls})
}

// AppendTool appends a tool-role result message matching a prior
// tool_call_id (spec §8 invariant: every tool_call has a matching
// subsequent tool-role message with the same id).
func (c *Conversation) AppendTool(toolCallID, content string) {
	c.Messages = append(c.Messages, Message{Role: RoleTool, Content: content, ToolCallID: toolCallID})
}

// Clear truncates history back to {system, initial user prompt}, preserving
// Memories (spec §4.3.2: "A clear-conversation request truncates the
// history back to {system, initial user prompt}").
func (c *Conversation) Clear() {
	if len(c.Messages) == 0 {
		return
	}
	keep := 1
	if len(c.Messages) > 1 && c.Messages[1].Role == RoleUser {
		keep = 2
	}
	if keep > len(c.Messages) {
		keep = len(c.Messages)
	}
	c.Messages = c.Messages[:keep]
	c.iterationCount = 0
}

// ResetIterationCount zeroes the per-call tool-call iteration counter
// without touching message history, used by the orchestrator when it
// re-enters a phase after a max_iterations_reached exit (spec §4.2
// Planning phase: "on max-iterations-reached, resets per-conversation
// iteration count and nudges").
func (c *Conversation) ResetIterationCount() {
	c.iterationCount = 0
}

// Finalize marks the conversation closed; no further turns may be run
// (spec §3 invariant: "after finalize, no further turns").
func (c *Conversation) Finalize() {
	c.Finalized = true
}

// ByteLength sums the byte length of every message's content, the
// approximation the compaction-threshold check uses (spec §4.3 step 11:
// "total prompt length (bytes)").
func (c *Conversation) ByteLength() int {
	total := len(c.SystemPrompt)
	for _, m := range c.Messages {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(tc.Arguments)
		}
	}
	return total
}

// FormattedSystemPrompt returns the system prompt with the Memories section
// appended (spec §4.3 step 1).
func (c *Conversation) FormattedSystemPrompt() string {
	return fmt.Sprintf("%s\n\n## Memories\n%s", c.SystemPrompt, c.Memories.Format())
}

// ResetWithMemories builds a fresh conversation sharing the same Memories
// object, used both by developer-phase context reset at stuck-counter=7 and
// by constructing a new per-subtask conversation (spec §4.2).
func ResetWithMemories(id, systemPrompt, initialUserMessage string, memories *Memories) *Conversation {
	return NewConversation(id, systemPrompt, initialUserMessage, memories)
}
