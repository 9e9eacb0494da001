// Package memory implements the memory.add and memory.remove tools (spec
// §4.4 "memory.add(label, text): ignores blanks; deduplicates. memory.remove
// (label, prefix-text): rejects searches shorter than a configured minimum;
// matches by common-prefix length"), forwarding to the MemoryStore carried
// on the tool Context (internal/llm.Memories).
package memory

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// AddTool implements memory.add.
type AddTool struct{}

func NewAddTool() *AddTool { return &AddTool{} }

func (t *AddTool) Name() string        { return "add_memory" }
func (t *AddTool) Description() string { return "Record a piece of information under a label for later recall in this conversation." }

type addArgs struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

func (t *AddTool) Schema() json.RawMessage { return tool.DeriveSchema(addArgs{}, t.Description()) }

func (t *AddTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in addArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if in.Label == "" {
		return &tool.Result{IsError: true, Response: "label is required"}, nil
	}
	if tc.Memories == nil {
		return &tool.Result{IsError: true, Response: "memory is not available in this context"}, nil
	}
	tc.Memories.Add(in.Label, in.Text)
	return &tool.Result{Response: "memory recorded"}, nil
}

// RemoveTool implements memory.remove.
type RemoveTool struct{}

func NewRemoveTool() *RemoveTool { return &RemoveTool{} }

func (t *RemoveTool) Name() string { return "remove_memory" }
func (t *RemoveTool) Description() string {
	return "Remove recorded memories under a label that begin with the given text."
}

type removeArgs struct {
	Label  string `json:"label"`
	Prefix string `json:"prefix"`
}

func (t *RemoveTool) Schema() json.RawMessage { return tool.DeriveSchema(removeArgs{}, t.Description()) }

func (t *RemoveTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in removeArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if tc.Memories == nil {
		return &tool.Result{IsError: true, Response: "memory is not available in this context"}, nil
	}
	removed := tc.Memories.Remove(in.Label, in.Prefix)
	if !removed {
		return &tool.Result{Response: "no matching memories found (or prefix too short)"}, nil
	}
	return &tool.Result{Response: "memories removed"}, nil
}
