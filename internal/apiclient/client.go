// Package apiclient implements the control-plane REST surface the worker
// consumes (spec §6), grounded on the teacher's cmd/nexus/api_client.go
// bearer-authenticated JSON HTTP client shape, narrowed to the ticket
// mutation endpoints this system needs.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/ticketworker/internal/infra"
	"github.com/haasonsaas/ticketworker/internal/ratelimit"
	"github.com/haasonsaas/ticketworker/internal/ticket"
)

// Client is a thin REST client for the control plane's ticket surface.
// Writes for a single ticket are serialized by the caller (spec §5:
// "the API client serializes writes for a single ticket").
type Client struct {
	baseURL         string
	httpClient      *http.Client
	authToken       string
	activityLimiter *ratelimit.Limiter
	breaker         *infra.CircuitBreaker
	ticketFetches   infra.Group[string, *ticket.Ticket]
}

// controlPlaneBreakerConfig trips after 5 consecutive request failures and
// holds the circuit open for 30s before probing again, so a worker whose
// control plane has gone away fails fast instead of piling up timed-out
// requests against it.
var controlPlaneBreakerConfig = infra.CircuitBreakerConfig{
	Name:             "apiclient",
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

// activityRateLimitConfig bounds activity-log POSTs per ticket so a
// runaway tool loop cannot flood the control plane (SPEC_FULL §6
// "Activity-log rate limiting").
var activityRateLimitConfig = ratelimit.Config{
	RequestsPerSecond: 1.0,
	BurstSize:         20,
	Enabled:           true,
}

// New builds a Client against baseURL (e.g. "https://hub.example.com").
func New(baseURL, authToken string) *Client {
	return &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		authToken:       authToken,
		activityLimiter: ratelimit.NewLimiter(activityRateLimitConfig),
		breaker:         infra.NewCircuitBreaker(controlPlaneBreakerConfig),
	}
}

// ErrActivityRateLimited is returned by PostActivity when a ticket has
// exceeded its activity-log burst budget; callers should drop the line
// rather than retry it.
var ErrActivityRateLimited = errors.New("apiclient: activity log rate limited")

func (c *Client) do(ctx context.Context, method, path string, body any) (*ticket.Ticket, error) {
	return infra.ExecuteWithResult(c.breaker, ctx, func(ctx context.Context) (*ticket.Ticket, error) {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("apiclient: marshal request: %w", err)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("apiclient: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: read response: %w", err)
		}

		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("apiclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
		}

		if len(data) == 0 {
			return nil, nil
		}
		var t ticket.Ticket
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("apiclient: decode response: %w", err)
		}
		return &t, nil
	})
}

// GetTicket fetches the current ticket state. Concurrent calls for the same
// ticket id are coalesced through a singleflight group (SPEC_FULL §3
// infra.Group wiring) so the supervisor's waitForTicket poll and a doctor or
// Hub-triggered refetch racing it share one HTTP round trip instead of
// issuing duplicates against the control plane.
func (c *Client) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	t, err, _ := c.ticketFetches.Do(id, func() (*ticket.Ticket, error) {
		return c.do(ctx, http.MethodGet, "/api/tickets/"+id, nil)
	})
	return t, err
}

// UpdateStatus PATCHes the ticket's status.
func (c *Client) UpdateStatus(ctx context.Context, id string, status ticket.Status) (*ticket.Ticket, error) {
	return c.do(ctx, http.MethodPatch, "/api/tickets/"+id+"/status", map[string]string{"status": string(status)})
}

// UpdateBranch PATCHes the ticket's branch name.
func (c *Client) UpdateBranch(ctx context.Context, id, branch string) (*ticket.Ticket, error) {
	return c.do(ctx, http.MethodPatch, "/api/tickets/"+id+"/branch", map[string]string{"branchName": branch})
}

// UpdateCost PATCHes the ticket's running spend.
func (c *Client) UpdateCost(ctx context.Context, id string, cost float64) (*ticket.Ticket, error) {
	return c.do(ctx, http.MethodPatch, "/api/tickets/"+id+"/cost", map[string]float64{"cost": cost})
}

// AddTask POSTs a new task.
func (c *Client) AddTask(ctx context.Context, id string, task *ticket.Task) (*ticket.Ticket, error) {
	return c.do(ctx, http.MethodPost, "/api/tickets/"+id+"/tasks", map[string]*ticket.Task{"task": task})
}

// AddSubtask POSTs a new subtask under taskID.
func (c *Client) AddSubtask(ctx context.Context, id, taskID string, subtask *ticket.Subtask) (*ticket.Ticket, error) {
	return c.do(ctx, http.MethodPost, "/api/tickets/"+id+"/tasks/"+taskID+"/subtasks", map[string]*ticket.Subtask{"subtask": subtask})
}

// UpdateSubtaskStatus PATCHes a subtask's status.
func (c *Client) UpdateSubtaskStatus(ctx context.Context, id, taskID, subtaskID string, status ticket.SubtaskStatus) (*ticket.Ticket, error) {
	return c.do(ctx, http.MethodPatch,
		"/api/tickets/"+id+"/tasks/"+taskID+"/subtasks/"+subtaskID,
		map[string]string{"status": string(status)})
}

// DeleteAllTasks DELETEs every task on the ticket, used by planning's
// restart path.
func (c *Client) DeleteAllTasks(ctx context.Context, id string) (*ticket.Ticket, error) {
	return c.do(ctx, http.MethodDelete, "/api/tickets/"+id+"/tasks", nil)
}

// PostActivity appends a line to the ticket's activity log, subject to a
// per-ticket rate limit (SPEC_FULL §6). Returns ErrActivityRateLimited
// without making a request if the ticket's burst budget is exhausted.
func (c *Client) PostActivity(ctx context.Context, id, message string) error {
	if !c.activityLimiter.Allow(id) {
		return ErrActivityRateLimited
	}
	_, err := c.do(ctx, http.MethodPost, "/api/tickets/"+id+"/activity", map[string]string{"message": message})
	return err
}

// ConversationData is the server's representation of a synced conversation.
type ConversationData struct {
	ID       string          `json:"id"`
	Messages json.RawMessage `json:"messages"`
}

// GetPlanningConversation fetches the persisted planning conversation, used
// to resume a worker restart mid-ticket.
func (c *Client) GetPlanningConversation(ctx context.Context, id string) (*ConversationData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tickets/"+id+"/conversations/planning", nil)
	if err != nil {
		return nil, err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("apiclient: get planning conversation: status %d", resp.StatusCode)
	}
	var cd ConversationData
	if err := json.NewDecoder(resp.Body).Decode(&cd); err != nil {
		return nil, err
	}
	return &cd, nil
}
