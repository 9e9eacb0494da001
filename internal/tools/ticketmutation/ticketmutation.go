// Package ticketmutation implements the ticket-mutation tools (spec §4.4
// "ticket tools": add_task, add_subtask, update_subtask, delete_all_tasks)
// by forwarding to internal/apiclient and updating the shared TicketHolder
// with the server's returned representation on success, per spec §4.4
// "ticket tools: forward to the API Client; on success, update the locally
// held TicketHolder with the server's returned ticket representation."
package ticketmutation

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/ticketworker/internal/apiclient"
	"github.com/haasonsaas/ticketworker/internal/ticket"
	"github.com/haasonsaas/ticketworker/internal/tool"
)

// AddTaskTool implements add_task.
type AddTaskTool struct {
	api *apiclient.Client
}

func NewAddTaskTool(api *apiclient.Client) *AddTaskTool { return &AddTaskTool{api: api} }

func (t *AddTaskTool) Name() string        { return "add_task" }
func (t *AddTaskTool) Description() string { return "Add a new task with a name and description to the ticket's plan." }

type addTaskArgs struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (t *AddTaskTool) Schema() json.RawMessage { return tool.DeriveSchema(addTaskArgs{}, t.Description()) }

func (t *AddTaskTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in addTaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if in.Name == "" {
		return &tool.Result{IsError: true, Response: "name is required"}, nil
	}

	updated, err := t.api.AddTask(ctx, tc.TicketID, &ticket.Task{Name: in.Name, Description: in.Description})
	if err != nil {
		return &tool.Result{IsError: true, Response: "add_task failed: " + err.Error()}, nil
	}
	tc.Holder.Set(updated)
	return &tool.Result{Response: "task added"}, nil
}

// AddSubtaskTool implements add_subtask.
type AddSubtaskTool struct {
	api *apiclient.Client
}

func NewAddSubtaskTool(api *apiclient.Client) *AddSubtaskTool { return &AddSubtaskTool{api: api} }

func (t *AddSubtaskTool) Name() string        { return "add_subtask" }
func (t *AddSubtaskTool) Description() string { return "Add a new subtask with a name and description under an existing task." }

type addSubtaskArgs struct {
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (t *AddSubtaskTool) Schema() json.RawMessage {
	return tool.DeriveSchema(addSubtaskArgs{}, t.Description())
}

func (t *AddSubtaskTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in addSubtaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if in.TaskID == "" || in.Name == "" {
		return &tool.Result{IsError: true, Response: "task_id and name are required"}, nil
	}

	updated, err := t.api.AddSubtask(ctx, tc.TicketID, in.TaskID, &ticket.Subtask{
		Name:        in.Name,
		Description: in.Description,
		Status:      ticket.SubtaskIncomplete,
	})
	if err != nil {
		return &tool.Result{IsError: true, Response: "add_subtask failed: " + err.Error()}, nil
	}
	tc.Holder.Set(updated)
	return &tool.Result{Response: "subtask added"}, nil
}

// UpdateSubtaskTool implements update_subtask.
type UpdateSubtaskTool struct {
	api *apiclient.Client
}

func NewUpdateSubtaskTool(api *apiclient.Client) *UpdateSubtaskTool {
	return &UpdateSubtaskTool{api: api}
}

func (t *UpdateSubtaskTool) Name() string        { return "update_subtask" }
func (t *UpdateSubtaskTool) Description() string { return "Update an existing subtask's status." }

type updateSubtaskArgs struct {
	TaskID    string `json:"task_id"`
	SubtaskID string `json:"subtask_id"`
	Status    string `json:"status"`
}

func (t *UpdateSubtaskTool) Schema() json.RawMessage {
	return tool.DeriveSchema(updateSubtaskArgs{}, t.Description())
}

func (t *UpdateSubtaskTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in updateSubtaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if in.TaskID == "" || in.SubtaskID == "" || in.Status == "" {
		return &tool.Result{IsError: true, Response: "task_id, subtask_id, and status are required"}, nil
	}

	updated, err := t.api.UpdateSubtaskStatus(ctx, tc.TicketID, in.TaskID, in.SubtaskID, ticket.SubtaskStatus(in.Status))
	if err != nil {
		return &tool.Result{IsError: true, Response: "update_subtask failed: " + err.Error()}, nil
	}
	tc.Holder.Set(updated)
	return &tool.Result{Response: "subtask updated"}, nil
}

// DeleteAllTasksTool implements delete_all_tasks.
type DeleteAllTasksTool struct {
	api *apiclient.Client
}

func NewDeleteAllTasksTool(api *apiclient.Client) *DeleteAllTasksTool {
	return &DeleteAllTasksTool{api: api}
}

func (t *DeleteAllTasksTool) Name() string { return "delete_all_tasks" }
func (t *DeleteAllTasksTool) Description() string {
	return "Delete every task and subtask on the ticket, restarting planning from scratch."
}

type deleteAllTasksArgs struct{}

func (t *DeleteAllTasksTool) Schema() json.RawMessage {
	return tool.DeriveSchema(deleteAllTasksArgs{}, t.Description())
}

func (t *DeleteAllTasksTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	updated, err := t.api.DeleteAllTasks(ctx, tc.TicketID)
	if err != nil {
		return &tool.Result{IsError: true, Response: "delete_all_tasks failed: " + err.Error()}, nil
	}
	tc.Holder.Set(updated)
	return &tool.Result{Response: "all tasks deleted", IsFinal: true, FinalToolName: "delete_all_tasks"}, nil
}
