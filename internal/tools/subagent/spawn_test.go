package subagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/ticketworker/internal/llm"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/tool"
)

func newStubProviderEngine(t *testing.T, responseContent string) *llm.Engine {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + responseContent + `"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	t.Cleanup(srv.Close)

	provider := llm.NewProvider(settings.LLMConfig{Model: "stub-model", Endpoint: srv.URL})
	return llm.NewEngine([]*llm.Provider{provider}, nil, nil, nil)
}

func TestSpawnToolRunsNestedConversationToCompletion(t *testing.T) {
	engine := newStubProviderEngine(t, "sub-agent done")
	registry := tool.NewRegistry()
	runner := NewRunner(engine, registry, 3)
	spawnTool := NewSpawnTool(runner)

	args, _ := json.Marshal(map[string]string{"name": "researcher", "task": "look into X"})
	result, err := spawnTool.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, result.Response, "sub-agent done")
	assert.Equal(t, 0, runner.ActiveCount())
}

func TestSpawnToolRefusesBeyondMaxDepth(t *testing.T) {
	engine := newStubProviderEngine(t, "unused")
	registry := tool.NewRegistry()
	runner := NewRunner(engine, registry, 3)
	spawnTool := NewSpawnTool(runner)

	args, _ := json.Marshal(map[string]string{"name": "nested", "task": "go deeper"})
	result, err := spawnTool.Execute(context.Background(), tool.Context{Depth: 1}, args)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Response, "cannot spawn")
}

func TestSpawnToolRequiresNameAndTask(t *testing.T) {
	engine := newStubProviderEngine(t, "unused")
	registry := tool.NewRegistry()
	runner := NewRunner(engine, registry, 3)
	spawnTool := NewSpawnTool(runner)

	args, _ := json.Marshal(map[string]string{"name": "", "task": ""})
	result, err := spawnTool.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSpawnToolEnforcesMaxActive(t *testing.T) {
	engine := newStubProviderEngine(t, "done")
	registry := tool.NewRegistry()
	runner := NewRunner(engine, registry, 1)
	runner.active.TryAcquire(1) // simulate one already running

	spawnTool := NewSpawnTool(runner)
	args, _ := json.Marshal(map[string]string{"name": "x", "task": "y"})
	result, err := spawnTool.Execute(context.Background(), tool.Context{}, args)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Response, "max active")
}
