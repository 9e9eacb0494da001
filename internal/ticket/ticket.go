// Package ticket defines the unit-of-work data model shared by the
// orchestrator, tool handlers, and the API/Hub clients.
package ticket

import "time"

// Status is a Ticket's lifecycle state. Transitions are externally driven by
// the control plane or the user; the worker only reacts to status changes.
type Status string

const (
	StatusBacklog Status = "backlog"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
	StatusDone    Status = "done"
)

// SubtaskStatus progresses monotonically toward Complete through InProgress
// and AwaitingReview; Rejected and Incomplete re-entry is permitted.
type SubtaskStatus string

const (
	SubtaskIncomplete      SubtaskStatus = "incomplete"
	SubtaskInProgress      SubtaskStatus = "in-progress"
	SubtaskAwaitingReview  SubtaskStatus = "awaiting-review"
	SubtaskComplete        SubtaskStatus = "complete"
	SubtaskRejected        SubtaskStatus = "rejected"
)

// Ticket is the unit of work the worker drives to completion.
type Ticket struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Branch      string   `json:"branch,omitempty"`
	Tasks       []*Task  `json:"tasks"`
	Activity    []string `json:"activity"`
	Spend       float64  `json:"spend"`
	MaxCost     *float64 `json:"maxCost,omitempty"`
}

// Task is a named, described group of Subtasks, ordered and addressable by
// id within a ticket.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Subtasks    []*Subtask `json:"subtasks"`
}

// Subtask is the atomic unit of developer work.
type Subtask struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      SubtaskStatus `json:"status"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// HasValidPlan reports whether the ticket has at least one task and every
// task has at least one subtask, per the spec's planning-exit invariant.
func (t *Ticket) HasValidPlan() bool {
	if t == nil || len(t.Tasks) == 0 {
		return false
	}
	for _, task := range t.Tasks {
		if len(task.Subtasks) == 0 {
			return false
		}
	}
	return true
}

// ExceedsBudget reports whether spend would exceed MaxCost once projected
// spend is added. A nil MaxCost means unbudgeted.
func (t *Ticket) ExceedsBudget(projectedSpend float64) bool {
	if t == nil || t.MaxCost == nil {
		return false
	}
	return projectedSpend > *t.MaxCost
}

// FindTask returns the task with the given id, or nil.
func (t *Ticket) FindTask(id string) *Task {
	for _, task := range t.Tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

// FindSubtask returns the subtask with the given id across all tasks, along
// with the owning task, or (nil, nil).
func (t *Ticket) FindSubtask(id string) (*Task, *Subtask) {
	for _, task := range t.Tasks {
		for _, st := range task.Subtasks {
			if st.ID == id {
				return task, st
			}
		}
	}
	return nil, nil
}

// OrderedSubtasks returns every subtask in task order then subtask order,
// the fixed iteration order the developer phase must use (spec §4.2
// Fairness/determinism).
func (t *Ticket) OrderedSubtasks() []*Subtask {
	var out []*Subtask
	for _, task := range t.Tasks {
		out = append(out, task.Subtasks...)
	}
	return out
}
