package ticketmutation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/ticketworker/internal/apiclient"
	"github.com/haasonsaas/ticketworker/internal/ticket"
	"github.com/haasonsaas/ticketworker/internal/tool"
)

func newTestServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*apiclient.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(respond))
	client := apiclient.New(srv.URL, "token")
	return client, srv.Close
}

func TestAddTaskUpdatesHolderOnSuccess(t *testing.T) {
	api, closeSrv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ticket.Ticket{ID: "T1", Tasks: []*ticket.Task{{ID: "task-1", Name: "New Task"}}})
	})
	defer closeSrv()

	holder := ticket.NewHolder(&ticket.Ticket{ID: "T1"})
	tl := NewAddTaskTool(api)
	tc := tool.Context{TicketID: "T1", Holder: holder}

	args, _ := json.Marshal(map[string]string{"name": "New Task"})
	result, err := tl.Execute(context.Background(), tc, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Len(t, holder.Get().Tasks, 1)
	assert.Equal(t, "New Task", holder.Get().Tasks[0].Name)
}

func TestAddTaskRequiresName(t *testing.T) {
	api, closeSrv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not call the server")
	})
	defer closeSrv()

	holder := ticket.NewHolder(&ticket.Ticket{ID: "T1"})
	tl := NewAddTaskTool(api)
	tc := tool.Context{TicketID: "T1", Holder: holder}

	args, _ := json.Marshal(map[string]string{"name": ""})
	result, err := tl.Execute(context.Background(), tc, args)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDeleteAllTasksIsTerminal(t *testing.T) {
	api, closeSrv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ticket.Ticket{ID: "T1", Tasks: nil})
	})
	defer closeSrv()

	holder := ticket.NewHolder(&ticket.Ticket{ID: "T1", Tasks: []*ticket.Task{{ID: "task-1"}}})
	tl := NewDeleteAllTasksTool(api)
	tc := tool.Context{TicketID: "T1", Holder: holder}

	result, err := tl.Execute(context.Background(), tc, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.True(t, result.IsFinal)
	assert.Equal(t, "delete_all_tasks", result.FinalToolName)
	assert.Empty(t, holder.Get().Tasks)
}

func TestUpdateSubtaskForwardsStatus(t *testing.T) {
	var capturedPath string
	api, closeSrv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		json.NewEncoder(w).Encode(ticket.Ticket{ID: "T1"})
	})
	defer closeSrv()

	holder := ticket.NewHolder(&ticket.Ticket{ID: "T1"})
	tl := NewUpdateSubtaskTool(api)
	tc := tool.Context{TicketID: "T1", Holder: holder}

	args, _ := json.Marshal(map[string]string{"task_id": "task-1", "subtask_id": "sub-1", "status": "complete"})
	result, err := tl.Execute(context.Background(), tc, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "/api/tickets/T1/tasks/task-1/subtasks/sub-1", capturedPath)
}
