package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

type fakeStore struct {
	added   map[string][]string
	removed bool
}

func newFakeStore() *fakeStore { return &fakeStore{added: map[string][]string{}} }

func (f *fakeStore) Add(label, text string) {
	if text == "" {
		return
	}
	f.added[label] = append(f.added[label], text)
}

func (f *fakeStore) Remove(label, prefix string) bool {
	if len(prefix) < 3 {
		return false
	}
	return f.removed
}

func TestAddToolRequiresLabel(t *testing.T) {
	tl := NewAddTool()
	tc := tool.Context{Memories: newFakeStore()}
	args, _ := json.Marshal(map[string]string{"label": "", "text": "x"})
	result, err := tl.Execute(context.Background(), tc, args)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestAddToolRecordsText(t *testing.T) {
	store := newFakeStore()
	tl := NewAddTool()
	tc := tool.Context{Memories: store}
	args, _ := json.Marshal(map[string]string{"label": "notes", "text": "hello"})
	result, err := tl.Execute(context.Background(), tc, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, []string{"hello"}, store.added["notes"])
}

func TestRemoveToolReportsNoMatchWhenNotRemoved(t *testing.T) {
	store := newFakeStore()
	store.removed = false
	tl := NewRemoveTool()
	tc := tool.Context{Memories: store}
	args, _ := json.Marshal(map[string]string{"label": "notes", "prefix": "hel"})
	result, err := tl.Execute(context.Background(), tc, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, result.Response, "no matching")
}

func TestRemoveToolReportsRemoval(t *testing.T) {
	store := newFakeStore()
	store.removed = true
	tl := NewRemoveTool()
	tc := tool.Context{Memories: store}
	args, _ := json.Marshal(map[string]string{"label": "notes", "prefix": "hel"})
	result, err := tl.Execute(context.Background(), tc, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, result.Response, "removed")
}
