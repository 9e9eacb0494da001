package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// ReadTool implements file.read (spec §4.4): raw content when offset and
// lines are both blank/zero, otherwise 1-based numbered lines with a
// "Lines A-B of TOTAL" header.
type ReadTool struct {
	res resolver
}

// NewReadTool builds a read tool scoped to workspace.
func NewReadTool(workspace string) *ReadTool {
	return &ReadTool{res: resolver{root: workspace}}
}

func (t *ReadTool) Name() string        { return "file_read" }
func (t *ReadTool) Description() string { return "Read a file from the workspace, optionally a line range." }

type readArgs struct {
	Path   string `json:"path"`
	Offset *int   `json:"offset,omitempty"`
	Lines  *int   `json:"lines,omitempty"`
}

func (t *ReadTool) Schema() json.RawMessage {
	return tool.DeriveSchema(readArgs{}, t.Description())
}

func (t *ReadTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in readArgs
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

	data, err := os.ReadFile(resolved)
	if err != nil {
		return &tool.Result{IsError: true, Response: "read file: " + err.Error()}, nil
	}

	offset := 0
	if in.Offset != nil {
		offset = *in.Offset
	}
	lines := 0
	if in.Lines != nil {
		lines = *in.Lines
	}
	if offset < 0 {
		return &tool.Result{IsError: true, Response: "offset must be >= 0"}, nil
	}
	if lines < 0 {
		return &tool.Result{IsError: true, Response: "lines must be >= 0"}, nil
	}

	if offset == 0 && lines == 0 {
		return &tool.Result{Response: string(data)}, nil
	}

	allLines := strings.Split(string(data), "\n")
	total := len(allLines)

	start := offset
	if start < 1 {
		start = 1
	}
	startIdx := start - 1
	if startIdx > total {
		startIdx = total
	}
	if start > total {
		start = total
		if start < 1 {
			start = 1
		}
	}

	end := total
	if lines > 0 {
		end = startIdx + lines
		if end > total {
			end = total
		}
	}

	var b strings.Builder
	b.WriteString("Lines " + strconv.Itoa(start) + "-" + strconv.Itoa(end) + " of " + strconv.Itoa(total) + "\n")
	for i := startIdx; i < end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i+1, allLines[i])
	}

	return &tool.Result{Response: b.String()}, nil
}
