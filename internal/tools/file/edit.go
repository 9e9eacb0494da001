package file

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// EditTool implements file.edit (spec §4.4): strict single-match substring
// replacement. Errors on zero matches, more than one match, or empty
// oldContent — unlike the teacher's multi-edit-array-with-replace_all
// EditTool, which tolerates an arbitrary match count per edit.
type EditTool struct {
	res resolver
}

// NewEditTool builds an edit tool scoped to workspace.
func NewEditTool(workspace string) *EditTool {
	return &EditTool{res: resolver{root: workspace}}
}

func (t *EditTool) Name() string        { return "file_edit" }
func (t *EditTool) Description() string { return "Replace a single exact-match occurrence of text in a file." }

type editArgs struct {
	Path       string `json:"path"`
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
}

func (t *EditTool) Schema() json.RawMessage {
	return tool.DeriveSchema(editArgs{}, t.Description())
}

func (t *EditTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in editArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if strings.TrimSpace(in.Path) == "" {
		return &tool.Result{IsError: true, Response: "path is required"}, nil
	}
	if in.OldContent == "" {
		return &tool.Result{IsError: true, Response: "old_content must not be empty"}, nil
	}

	resolved, err := t.res.resolve(in.Path)
	if err != nil {
		return &tool.Result{IsError: true, Response: err.Error()}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return &tool.Result{IsError: true, Response: "read file: " + err.Error()}, nil
	}
	content := string(data)

	count := strings.Count(content, in.OldContent)
	if count == 0 {
		return &tool.Result{IsError: true, Response: "old_content not found in file"}, nil
	}
	if count > 1 {
		return &tool.Result{IsError: true, Response: "old_content matches more than once; must match exactly one location"}, nil
	}

	updated := strings.Replace(content, in.OldContent, in.NewContent, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return &tool.Result{IsError: true, Response: "write file: " + err.Error()}, nil
	}

	return &tool.Result{Response: "edited " + in.Path}, nil
}
