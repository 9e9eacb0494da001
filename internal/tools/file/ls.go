package file

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// LsTool implements file.ls (spec §4.4): non-recursive directory listing.
type LsTool struct {
	res resolver
}

// NewLsTool builds a listing tool scoped to workspace.
func NewLsTool(workspace string) *LsTool {
	return &LsTool{res: resolver{root: workspace}}
}

func (t *LsTool) Name() string        { return "file_ls" }
func (t *LsTool) Description() string { return "List entries of a directory in the workspace." }

type lsArgs struct {
	Path string `json:"path,omitempty"`
}

func (t *LsTool) Schema() json.RawMessage {
	return tool.DeriveSchema(lsArgs{}, t.Description())
}

func (t *LsTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in lsArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
		}
	}
	target := in.Path
	if strings.TrimSpace(target) == "" {
		target = "."
	}

	resolved, err := t.res.resolve(target)
	if err != nil {
		return &tool.Result{IsError: true, Response: err.Error()}, nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return &tool.Result{IsError: true, Response: "read directory: " + err.Error()}, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return &tool.Result{Response: strings.Join(names, "\n")}, nil
}
