package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/ticketworker/internal/apiclient"
	"github.com/haasonsaas/ticketworker/internal/errs"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/ticket"
)

// --- fake control plane -----------------------------------------------

// fakeControlPlane is a minimal stateful stand-in for the real hub/API
// server, tracking one ticket and applying the same mutations the real
// control plane would.
type fakeControlPlane struct {
	mu     sync.Mutex
	ticket *ticket.Ticket
	nextID int
}

func newFakeControlPlane(t *testing.T, seed *ticket.Ticket) (*apiclient.Client, *fakeControlPlane, func()) {
	t.Helper()
	cp := &fakeControlPlane{ticket: seed}
	srv := httptest.NewServer(http.HandlerFunc(cp.handle))
	client := apiclient.New(srv.URL, "token")
	return client, cp, srv.Close
}

func (cp *fakeControlPlane) handle(w http.ResponseWriter, r *http.Request) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts: ["api","tickets",id, ...rest]
	if len(parts) < 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rest := parts[3:]

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case len(rest) == 1 && rest[0] == "status" && r.Method == http.MethodPatch:
		cp.ticket.Status = ticket.Status(body["status"].(string))
	case len(rest) == 1 && rest[0] == "branch" && r.Method == http.MethodPatch:
		cp.ticket.Branch = body["branchName"].(string)
	case len(rest) == 1 && rest[0] == "cost" && r.Method == http.MethodPatch:
		cp.ticket.Spend = body["cost"].(float64)
	case len(rest) == 1 && rest[0] == "activity" && r.Method == http.MethodPost:
		cp.ticket.Activity = append(cp.ticket.Activity, body["message"].(string))
	case len(rest) == 1 && rest[0] == "tasks" && r.Method == http.MethodPost:
		cp.nextID++
		taskData := body["task"].(map[string]any)
		cp.ticket.Tasks = append(cp.ticket.Tasks, &ticket.Task{
			ID:          fmt.Sprintf("task-%d", cp.nextID),
			Name:        str(taskData["name"]),
			Description: str(taskData["description"]),
		})
	case len(rest) == 1 && rest[0] == "tasks" && r.Method == http.MethodDelete:
		cp.ticket.Tasks = nil
	case len(rest) == 3 && rest[0] == "tasks" && rest[2] == "subtasks" && r.Method == http.MethodPost:
		taskID := rest[1]
		cp.nextID++
		subData := body["subtask"].(map[string]any)
		task := cp.ticket.FindTask(taskID)
		if task != nil {
			task.Subtasks = append(task.Subtasks, &ticket.Subtask{
				ID:          fmt.Sprintf("subtask-%d", cp.nextID),
				Name:        str(subData["name"]),
				Description: str(subData["description"]),
				Status:      ticket.SubtaskIncomplete,
			})
		}
	case len(rest) == 4 && rest[0] == "tasks" && rest[2] == "subtasks" && r.Method == http.MethodPatch:
		_, st := cp.ticket.FindSubtask(rest[3])
		if st != nil {
			st.Status = ticket.SubtaskStatus(body["status"].(string))
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cp.ticket)
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return v.(string)
}

// --- fake LLM ------------------------------------------------------------

// scriptedToolCall describes one tool invocation the fake model issues.
type scriptedToolCall struct {
	name string
	args string
}

// scriptedTurn is one assistant response: either a set of tool calls, or
// plain content with no tool calls (an ExitCompleted turn).
type scriptedTurn struct {
	content string
	calls   []scriptedToolCall
}

type fakeLLM struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	cursor   int
	requests []map[string]any
}

func newFakeLLM(t *testing.T, turns ...scriptedTurn) (*httptest.Server, *fakeLLM) {
	t.Helper()
	f := &fakeLLM{turns: turns}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	return srv, f
}

// lastUserMessage returns the content of the last role:"user" message in the
// nth captured request (0-indexed in call order, including compaction
// calls), for asserting what a developer/QA turn actually saw.
func (f *fakeLLM) lastUserMessage(n int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n >= len(f.requests) {
		return ""
	}
	msgs, _ := f.requests[n]["messages"].([]any)
	for i := len(msgs) - 1; i >= 0; i-- {
		m, _ := msgs[i].(map[string]any)
		if m["role"] == "user" {
			return str(m["content"])
		}
	}
	return ""
}

func (f *fakeLLM) handle(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	// A compaction call never sets tool_choice (ToolChoiceOmit serializes to
	// nothing, and tools is nil), so it is trivially distinguishable from a
	// scripted phase turn.
	if _, hasToolChoice := req["tool_choice"]; !hasToolChoice {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"<summary>compacted</summary>"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":5}}`)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor >= len(f.turns) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"no more scripted turns"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
		return
	}
	turn := f.turns[f.cursor]
	f.cursor++

	type wireCall struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	var calls []wireCall
	for i, c := range turn.calls {
		wc := wireCall{ID: fmt.Sprintf("call-%d-%d", f.cursor, i)}
		wc.Type = "function"
		wc.Function.Name = c.name
		wc.Function.Arguments = c.args
		calls = append(calls, wc)
	}

	resp := map[string]any{
		"choices": []map[string]any{
			{
				"message": map[string]any{
					"role":       "assistant",
					"content":    turn.content,
					"tool_calls": calls,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// --- test scaffolding ------------------------------------------------------

func writePrompts(t *testing.T) *settings.Prompts {
	t.Helper()
	dir := t.TempDir()
	for _, role := range []string{"planning", "developer", "subagent", "compaction", "qualityassurance"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, role+".txt"), []byte(role+" prompt for {ticketId}"), 0o644))
	}
	prompts, err := settings.LoadPrompts(dir)
	require.NoError(t, err)
	return prompts
}

func baseSettings(llmURL string) *settings.Settings {
	s := &settings.Settings{
		LLMConfigs: []settings.LLMConfig{
			{Model: "test-model", Endpoint: llmURL, ContextLength: 128000},
		},
	}
	s.ApplyDefaults()
	return s
}

func newTestOrchestrator(t *testing.T, seed *ticket.Ticket, llmURL string) (*Orchestrator, *fakeControlPlane, func()) {
	t.Helper()
	api, cp, closeAPI := newFakeControlPlane(t, seed)
	holder := ticket.NewHolder(seed)
	o := NewOrchestrator(api, nil, holder, baseSettings(llmURL), writePrompts(t), nil)
	return o, cp, closeAPI
}

// --- tests -----------------------------------------------------------------

func TestStartAgentsHappyPathReachesDone(t *testing.T) {
	srv, _ := newFakeLLM(t,
		scriptedTurn{calls: []scriptedToolCall{
			{name: "add_task", args: `{"name":"Build feature","description":"do the thing"}`},
			{name: "add_subtask", args: `{"task_id":"task-1","name":"Implement","description":"write the code"}`},
			{name: "planning_complete", args: `{}`},
		}},
		scriptedTurn{calls: []scriptedToolCall{
			{name: "end_subtask", args: `{"summary":"implemented and tested"}`},
		}},
		scriptedTurn{calls: []scriptedToolCall{
			{name: "approve_subtask", args: `{"notes":"looks good"}`},
		}},
	)
	defer srv.Close()

	seed := &ticket.Ticket{ID: "T1", Title: "Add widget", Description: "Add a widget to the app."}
	o, cp, closeAPI := newTestOrchestrator(t, seed, srv.URL)
	defer closeAPI()

	err := o.StartAgents(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ticket.StatusDone, cp.ticket.Status)
	require.Len(t, cp.ticket.Tasks, 1)
	require.Len(t, cp.ticket.Tasks[0].Subtasks, 1)
	assert.Equal(t, ticket.SubtaskComplete, cp.ticket.Tasks[0].Subtasks[0].Status)
}

func TestStartAgentsQARejectionLoopsBackToDeveloper(t *testing.T) {
	srv, llm := newFakeLLM(t,
		scriptedTurn{calls: []scriptedToolCall{
			{name: "add_task", args: `{"name":"Build feature"}`},
			{name: "add_subtask", args: `{"task_id":"task-1","name":"Implement"}`},
			{name: "planning_complete", args: `{}`},
		}},
		scriptedTurn{calls: []scriptedToolCall{
			{name: "end_subtask", args: `{"summary":"first attempt"}`},
		}},
		scriptedTurn{calls: []scriptedToolCall{
			{name: "reject_subtask", args: `{"feedback":"missing tests"}`},
		}},
		scriptedTurn{calls: []scriptedToolCall{
			{name: "end_subtask", args: `{"summary":"added tests"}`},
		}},
		scriptedTurn{calls: []scriptedToolCall{
			{name: "approve_subtask", args: `{"notes":"now it's good"}`},
		}},
	)
	defer srv.Close()

	seed := &ticket.Ticket{ID: "T1", Title: "Add widget", Description: "Add a widget to the app."}
	o, cp, closeAPI := newTestOrchestrator(t, seed, srv.URL)
	defer closeAPI()

	err := o.StartAgents(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ticket.StatusDone, cp.ticket.Status)
	assert.Equal(t, ticket.SubtaskComplete, cp.ticket.Tasks[0].Subtasks[0].Status)

	// Request 0 is planning, 1 is the developer's first attempt, 2 is QA's
	// reject_subtask call, and 3 is the developer's second attempt: its
	// conversation must actually see the rejection's feedback text, not just
	// a generic "try again" (the bug behind this is reject_subtask's
	// Response never reaching the developer's next user message).
	assert.Contains(t, llm.lastUserMessage(3), "missing tests",
		"developer's retry turn must see the QA rejection feedback text")
}

func TestStartAgentsPlanningCostExceededFailsTicket(t *testing.T) {
	// The fake LLM is never consulted: spend already exceeds the budget, so
	// the Engine's preflight check short-circuits the very first Continue
	// call with ExitCostExceeded.
	maxCost := 5.0
	seed := &ticket.Ticket{ID: "T1", Title: "Add widget", Description: "...", Spend: 10, MaxCost: &maxCost}

	srv, _ := newFakeLLM(t)
	defer srv.Close()

	o, cp, closeAPI := newTestOrchestrator(t, seed, srv.URL)
	defer closeAPI()

	err := o.StartAgents(context.Background(), t.TempDir())
	require.Error(t, err)
	budgetErr, ok := errs.As[*errs.BudgetExceeded](err)
	require.True(t, ok)
	assert.Equal(t, 10.0, budgetErr.Spend)
	assert.Equal(t, 5.0, budgetErr.MaxCost)

	assert.Equal(t, ticket.StatusFailed, cp.ticket.Status)
}

func TestStartAgentsSkipsAlreadyCompleteSubtasks(t *testing.T) {
	// Planning is skipped (the ticket already has a valid plan reaching
	// planning_complete immediately), and the one subtask is already
	// complete, so the developer/QA phases never run.
	srv, _ := newFakeLLM(t,
		scriptedTurn{calls: []scriptedToolCall{
			{name: "planning_complete", args: `{}`},
		}},
	)
	defer srv.Close()

	seed := &ticket.Ticket{
		ID:          "T1",
		Title:       "Add widget",
		Description: "...",
		Tasks: []*ticket.Task{{
			ID:   "task-1",
			Name: "Build feature",
			Subtasks: []*ticket.Subtask{{
				ID:     "subtask-1",
				Name:   "Implement",
				Status: ticket.SubtaskComplete,
			}},
		}},
	}
	o, cp, closeAPI := newTestOrchestrator(t, seed, srv.URL)
	defer closeAPI()

	err := o.StartAgents(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusDone, cp.ticket.Status)
}
