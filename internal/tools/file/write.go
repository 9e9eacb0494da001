package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// WriteTool implements file.write (spec §4.4): creates intermediate
// directories, grounded on the teacher's internal/tools/files/write.go.
type WriteTool struct {
	res resolver
}

// NewWriteTool builds a write tool scoped to workspace.
func NewWriteTool(workspace string) *WriteTool {
	return &WriteTool{res: resolver{root: workspace}}
}

func (t *WriteTool) Name() string        { return "file_write" }
func (t *WriteTool) Description() string { return "Write content to a file, creating intermediate directories as needed." }

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteTool) Schema() json.RawMessage {
	return tool.DeriveSchema(writeArgs{}, t.Description())
}

func (t *WriteTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in writeArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if strings.TrimSpace(in.Path) == "" {
		return &tool.Result{IsError: true, Response: "path is required"}, nil
	}

	resolved, err := t.res.resolve(in.Path)
	if err != nil {
		return &tool.Result{IsError: true, Response: err.Error()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &tool.Result{IsError: true, Response: "create directory: " + err.Error()}, nil
	}
	if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
		return &tool.Result{IsError: true, Response: "write file: " + err.Error()}, nil
	}

	return &tool.Result{Response: "wrote " + in.Path}, nil
}
