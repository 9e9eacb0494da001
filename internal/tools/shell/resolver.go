package shell

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolver confines a work directory argument to the workspace root,
// grounded on the teacher's internal/tools/files.Resolver (kept here as a
// small standalone copy since file.resolver is unexported in its own
// package and the teacher's files.Resolver was shared directly between
// files and exec, which this layout splits into separate tool packages).
type resolver struct {
	root string
}

func (r resolver) resolve(path string) (string, error) {
	root, err := filepath.Abs(r.root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if path == "" || path == "." {
		return root, nil
	}

	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Clean(filepath.Join(root, path))
	}

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return candidate, nil
}
