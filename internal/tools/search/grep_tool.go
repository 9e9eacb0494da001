package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// GrepTool implements search.grep (spec §4.4): modes
// files_with_matches|content|count, optional include-glob, case flag,
// context lines, max-results.
type GrepTool struct {
	root string
}

// NewGrepTool builds a grep tool scoped to workspace.
func NewGrepTool(workspace string) *GrepTool {
	return &GrepTool{root: workspace}
}

func (t *GrepTool) Name() string        { return "search_grep" }
func (t *GrepTool) Description() string { return "Search file contents in the workspace by regular expression." }

type grepArgs struct {
	Pattern       string `json:"pattern"`
	Include       string `json:"include,omitempty"`
	Mode          string `json:"mode,omitempty"`
	CaseSensitive *bool  `json:"case_sensitive,omitempty"`
	ContextLines  *int   `json:"context_lines,omitempty"`
	MaxResults    *int   `json:"max_results,omitempty"`
}

const (
	modeFilesWithMatches = "files_with_matches"
	modeContent          = "content"
	modeCount            = "count"
)

func (t *GrepTool) Schema() json.RawMessage {
	return tool.DeriveSchema(grepArgs{}, t.Description())
}

func (t *GrepTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in grepArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if strings.TrimSpace(in.Pattern) == "" {
		return &tool.Result{IsError: true, Response: "pattern is required"}, nil
	}

	mode := in.Mode
	if mode == "" {
		mode = modeFilesWithMatches
	}
	if mode != modeFilesWithMatches && mode != modeContent && mode != modeCount {
		return &tool.Result{IsError: true, Response: "mode must be one of files_with_matches|content|count"}, nil
	}

	pattern := in.Pattern
	caseSensitive := in.CaseSensitive == nil || *in.CaseSensitive
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return &tool.Result{IsError: true, Response: "invalid pattern: " + err.Error()}, nil
	}

	var includeRe *regexp.Regexp
	if in.Include != "" {
		includeRe, err = CompileGlob(in.Include)
		if err != nil {
			return &tool.Result{IsError: true, Response: "invalid include pattern: " + err.Error()}, nil
		}
	}

	maxResults := 0
	if in.MaxResults != nil {
		maxResults = *in.MaxResults
	}
	contextLines := 0
	if in.ContextLines != nil {
		contextLines = *in.ContextLines
	}

	root := t.root
	if root == "" {
		root = "."
	}

	var filesWithMatches []string
	var contentLines []string
	totalCount := 0

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if includeRe != nil && !includeRe.MatchString(rel) {
			return nil
		}
		if maxResults > 0 && len(filesWithMatches) >= maxResults && mode == modeFilesWithMatches {
			return nil
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		lines := []string{}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}

		fileMatched := false
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			fileMatched = true
			totalCount++
			if mode == modeContent {
				start := i - contextLines
				if start < 0 {
					start = 0
				}
				end := i + contextLines
				if end > len(lines)-1 {
					end = len(lines) - 1
				}
				for j := start; j <= end; j++ {
					contentLines = append(contentLines, fmt.Sprintf("%s:%d: %s", rel, j+1, lines[j]))
				}
				if maxResults > 0 && len(contentLines) >= maxResults {
					break
				}
			}
		}
		if fileMatched {
			filesWithMatches = append(filesWithMatches, rel)
		}
		return nil
	})
	if err != nil {
		return &tool.Result{IsError: true, Response: "walk workspace: " + err.Error()}, nil
	}

	switch mode {
	case modeFilesWithMatches:
		sort.Strings(filesWithMatches)
		return &tool.Result{Response: strings.Join(filesWithMatches, "\n")}, nil
	case modeCount:
		return &tool.Result{Response: fmt.Sprintf("%d", totalCount)}, nil
	default: // modeContent
		if maxResults > 0 && len(contentLines) > maxResults {
			contentLines = contentLines[:maxResults]
		}
		return &tool.Result{Response: strings.Join(contentLines, "\n")}, nil
	}
}
