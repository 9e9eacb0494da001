package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadRawWhenOffsetAndLinesZero(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.txt", "one\ntwo\nthree\n")

	rt := NewReadTool(dir)
	args, _ := json.Marshal(map[string]any{"path": "a.txt"})
	res, err := rt.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, "one\ntwo\nthree\n", res.Response)
}

func TestReadNumberedLinesWithHeader(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.txt", "one\ntwo\nthree\nfour\n")

	rt := NewReadTool(dir)
	offset, lines := 2, 2
	args, _ := json.Marshal(map[string]any{"path": "a.txt", "offset": offset, "lines": lines})
	res, err := rt.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, res.Response, "Lines 2-3 of 5")
	require.Contains(t, res.Response, "2: two")
	require.Contains(t, res.Response, "3: three")
}

func TestReadOffsetBeyondEndClampsToLastLine(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.txt", "one\ntwo\nthree\nfour")

	rt := NewReadTool(dir)
	args, _ := json.Marshal(map[string]any{"path": "a.txt", "offset": 1000})
	res, err := rt.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, res.Response, "Lines 4-4 of 4")
}

func TestReadRejectsNegativeOffset(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.txt", "one\n")

	rt := NewReadTool(dir)
	args, _ := json.Marshal(map[string]any{"path": "a.txt", "offset": -1})
	res, err := rt.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestEditRequiresExactlyOneMatch(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.txt", "foo bar foo")

	et := NewEditTool(dir)
	args, _ := json.Marshal(map[string]any{"path": "a.txt", "old_content": "foo", "new_content": "baz"})
	res, err := et.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.True(t, res.IsError, "must reject when old_content matches more than once")
}

func TestEditRejectsEmptyOldContent(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "a.txt", "foo")

	et := NewEditTool(dir)
	args, _ := json.Marshal(map[string]any{"path": "a.txt", "old_content": "", "new_content": "baz"})
	res, err := et.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestEditAppliesSingleMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "hello world")

	et := NewEditTool(dir)
	args, _ := json.Marshal(map[string]any{"path": "a.txt", "old_content": "world", "new_content": "there"})
	res, err := et.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.False(t, res.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello there", string(data))
}

func TestWriteCreatesIntermediateDirectories(t *testing.T) {
	dir := t.TempDir()
	wt := NewWriteTool(dir)
	args, _ := json.Marshal(map[string]any{"path": "nested/deep/file.txt", "content": "hi"})
	res, err := wt.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.False(t, res.IsError)

	data, err := os.ReadFile(filepath.Join(dir, "nested", "deep", "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}

func TestLsListsSortedEntriesWithTrailingSlashForDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "zsub"), 0o755))
	writeTemp(t, dir, "afile.txt", "x")

	lt := NewLsTool(dir)
	res, err := lt.Execute(context.Background(), tool.Context{}, nil)
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, "afile.txt\nzsub/", res.Response)
}
