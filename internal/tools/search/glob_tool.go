package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// GlobTool implements search.glob (spec §4.4).
type GlobTool struct {
	root string
}

// NewGlobTool builds a glob tool scoped to workspace.
func NewGlobTool(workspace string) *GlobTool {
	return &GlobTool{root: workspace}
}

func (t *GlobTool) Name() string        { return "search_glob" }
func (t *GlobTool) Description() string { return "Find files in the workspace matching a glob pattern." }

type globArgs struct {
	Pattern string `json:"pattern"`
}

func (t *GlobTool) Schema() json.RawMessage {
	return tool.DeriveSchema(globArgs{}, t.Description())
}

func (t *GlobTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in globArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if strings.TrimSpace(in.Pattern) == "" {
		return &tool.Result{IsError: true, Response: "pattern is required"}, nil
	}

	re, err := CompileGlob(in.Pattern)
	if err != nil {
		return &tool.Result{IsError: true, Response: "invalid pattern: " + err.Error()}, nil
	}

	root := t.root
	if root == "" {
		root = "."
	}
	var matches []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if re.MatchString(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return &tool.Result{IsError: true, Response: "walk workspace: " + err.Error()}, nil
	}
	sort.Strings(matches)

	return &tool.Result{Response: strings.Join(matches, "\n")}, nil
}
