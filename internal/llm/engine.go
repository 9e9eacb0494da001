package llm

import (
	"context"
	"fmt"

	"github.com/haasonsaas/ticketworker/internal/backoff"
	"github.com/haasonsaas/ticketworker/internal/errs"
	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/tool"
)

// ExitReason is the terminal condition that ended a Continue call (spec §3
// LlmResult).
type ExitReason string

const (
	ExitCompleted           ExitReason = "completed"
	ExitToolRequestedExit   ExitReason = "tool_requested_exit"
	ExitMaxIterationsReached ExitReason = "max_iterations_reached"
	ExitCostExceeded        ExitReason = "cost_exceeded"
	ExitError               ExitReason = "error"
)

// LlmResult is the Conversation Engine's return value (spec §4.3).
type LlmResult struct {
	ExitReason      ExitReason
	Content         string
	FinalToolCalled string
	ErrorMessage    string
}

// DefaultIterationCap is the per-call tool-call iteration limit (spec §4.3
// step 10).
const DefaultIterationCap = 50

// MaxRateLimitAttempts bounds retries against a single provider before
// falling over to the next configured LLM (spec §4.3 step 4).
const MaxRateLimitAttempts = 3

// MaxServerErrorAttempts bounds same-provider retries for 5xx/transport
// errors before falling over.
const MaxServerErrorAttempts = 2

// SpendTracker receives running-spend updates for budget preflight and
// publishing (spec §4.3 steps 2, 5). Implemented by the orchestrator's
// ticket holder + API client pairing.
type SpendTracker interface {
	CurrentSpend() float64
	MaxCost() (float64, bool)
	RecordSpend(ctx context.Context, delta float64) error
}

// SnapshotPublisher publishes a conversation snapshot after each completed
// turn (spec §4.3 step 12); implemented by internal/hub.Client.
type SnapshotPublisher interface {
	SyncConversation(ctx context.Context, conv *Conversation) error
}

// ActivityLogger records ticket activity lines, used for compaction-failure
// warnings (spec §4.3.1: "On failure ... emit an activity-log warning").
type ActivityLogger interface {
	LogActivity(ctx context.Context, message string)
}

// Engine executes chat turns for one conversation against an ordered list
// of providers, with retry, tool_choice downgrade, and fallback (spec
// §4.3), grounded on the teacher's internal/agent turn-loop/failover shape
// (loop.go, failover.go) but re-targeted to a synchronous batch call
// instead of a streaming channel.
type Engine struct {
	Providers          []*Provider
	Spend              SpendTracker
	Snapshot           SnapshotPublisher
	Activity           ActivityLogger
	CompactionMode      CompactionModeGetter
	CompactionPercent   float64
	CompactionPrompt    string
	IterationCap        int

	down []bool // per-provider "marked down for remainder of run" flag
}

// CompactionModeGetter reads the current compaction mode, indirected so
// settings updates (spec §4.3.2) are honored without rebuilding the Engine.
type CompactionModeGetter interface {
	Mode() settings.CompactionMode
}

// NewEngine builds an Engine over the given ordered provider list.
func NewEngine(providers []*Provider, spend SpendTracker, snapshot SnapshotPublisher, activity ActivityLogger) *Engine {
	return &Engine{
		Providers:    providers,
		Spend:        spend,
		Snapshot:     snapshot,
		Activity:     activity,
		IterationCap: DefaultIterationCap,
		down:         make([]bool, len(providers)),
	}
}

// Continue runs one or more chat turns until a terminal condition, per the
// 12-step algorithm in spec §4.3.
func (e *Engine) Continue(ctx context.Context, conv *Conversation, registry *tool.Registry, tc tool.Context, maxTokens *int) LlmResult {
	if conv.Finalized {
		return LlmResult{ExitReason: ExitError, ErrorMessage: "conversation already finalized"}
	}

	for {
		select {
		case <-ctx.Done():
			conv.Finalize()
			return LlmResult{ExitReason: ExitError, ErrorMessage: ctx.Err().Error()}
		default:
		}

		// Step 2: rate-limit/budget preflight.
		if e.Spend != nil {
			if max, ok := e.Spend.MaxCost(); ok && e.Spend.CurrentSpend() > max {
				return LlmResult{ExitReason: ExitCostExceeded}
			}
		}

		turn, result := e.runOneTurn(ctx, conv, registry, tc)
		if result != nil {
			return *result
		}

		// Step 11: compaction check, run before the next turn.
		if e.CompactionMode != nil && ShouldCompact(conv, e.CompactionMode.Mode(), e.activeContextLength(), e.compactionPercent()) {
			if err := Compact(ctx, e.activeProvider(), conv, e.CompactionPrompt); err != nil && e.Activity != nil {
				e.Activity.LogActivity(ctx, "compaction failed: "+err.Error())
			}
		}

		// Step 12: publish snapshot, best effort.
		if e.Snapshot != nil {
			_ = e.Snapshot.SyncConversation(ctx, conv)
		}

		if turn.done {
			return turn.result
		}
	}
}

// CompactNow forces a compaction regardless of the size threshold, used
// at the end of a successful developer subtask to guarantee memory
// hoisting before the conversation is discarded (spec §4.3.1
// "CompactNow: force a compaction even if threshold not crossed").
func (e *Engine) CompactNow(ctx context.Context, conv *Conversation) error {
	return Compact(ctx, e.activeProvider(), conv, e.CompactionPrompt)
}

func (e *Engine) compactionPercent() float64 {
	if e.CompactionPercent <= 0 {
		return 0.9
	}
	return e.CompactionPercent
}

type turnOutcome struct {
	done   bool
	result LlmResult
}

// runOneTurn executes step 1-10 for a single LLM call plus its resulting
// tool dispatch. The second return value is non-nil only for an immediate
// fatal exit (budget/provider exhaustion) that should bypass the remaining
// per-loop steps.
func (e *Engine) runOneTurn(ctx context.Context, conv *Conversation, registry *tool.Registry, tc tool.Context) (turnOutcome, *LlmResult) {
	choice := ToolChoiceRequired
	if len(registry.All()) == 0 {
		choice = ToolChoiceAuto
	}

	result, callErr := e.callWithFallback(ctx, conv, registry, choice)
	if callErr != nil {
		fatal := LlmResult{ExitReason: ExitError, ErrorMessage: callErr.Error()}
		return turnOutcome{}, &fatal
	}

	// Step 5: spend update.
	if e.Spend != nil && len(e.Providers) > 0 {
		cost := e.activeProvider().EstimateCost(result.Usage)
		if cost > 0 {
			_ = e.Spend.RecordSpend(ctx, cost)
		}
	}

	// Step 6: parse tool calls, falling back to XML scan.
	calls := result.ToolCalls
	if len(calls) == 0 {
		calls = ParseXMLFallbackCalls(result.Content, registry)
	}

	conv.AppendAssistant(result.Content, calls)

	// Step 7: no tool calls -> completed.
	if len(calls) == 0 {
		return turnOutcome{done: true, result: LlmResult{ExitReason: ExitCompleted, Content: result.Content}}, nil
	}

	// Step 8-9: dispatch each call in order.
	for _, call := range calls {
		toolResult := registry.Execute(ctx, tc, call.Name, call.Arguments)
		conv.AppendTool(call.ID, toolResult.Response)
		conv.iterationCount++

		if toolResult.IsFinal {
			return turnOutcome{done: true, result: LlmResult{
				ExitReason:      ExitToolRequestedExit,
				Content:         toolResult.Response,
				FinalToolCalled: toolResult.FinalToolName,
			}}, nil
		}
	}

	// Step 10: iteration cap.
	if conv.iterationCount >= e.iterationCap() {
		return turnOutcome{done: true, result: LlmResult{ExitReason: ExitMaxIterationsReached}}, nil
	}

	return turnOutcome{done: false}, nil
}

func (e *Engine) iterationCap() int {
	if e.IterationCap <= 0 {
		return DefaultIterationCap
	}
	return e.IterationCap
}

func (e *Engine) activeProvider() *Provider {
	for i, isDown := range e.down {
		if !isDown {
			return e.Providers[i]
		}
	}
	if len(e.Providers) > 0 {
		return e.Providers[0]
	}
	return nil
}

func (e *Engine) activeContextLength() int {
	if p := e.activeProvider(); p != nil {
		return p.ContextLength()
	}
	return 128000
}

// callWithFallback implements steps 1,3,4: build the request, POST, retry
// on rate-limit/5xx/tool_choice rejection, and fall to the next configured
// provider once the active one is exhausted.
func (e *Engine) callWithFallback(ctx context.Context, conv *Conversation, registry *tool.Registry, choice ToolChoice) (*CompletionResult, error) {
	if len(e.Providers) == 0 {
		return nil, &errs.ConfigError{Message: "no LLM providers configured"}
	}

	var lastErr error
	for i, provider := range e.Providers {
		if e.down[i] {
			continue
		}

		result, err := e.callOneProvider(ctx, provider, conv, registry, choice)
		if err == nil {
			return result, nil
		}
		lastErr = err
		e.down[i] = true // mark down for remainder of run once exhausted
	}

	return nil, &errs.ProviderError{Message: "all configured providers exhausted", Cause: lastErr}
}

// callOneProvider retries a single provider through rate-limit backoff,
// tool_choice downgrade, and server-error backoff before giving up on it.
func (e *Engine) callOneProvider(ctx context.Context, provider *Provider, conv *Conversation, registry *tool.Registry, choice ToolChoice) (*CompletionResult, error) {
	rateLimitAttempts := 0
	serverErrAttempts := 0

	for {
		result, callErr := provider.Complete(ctx, conv.FormattedSystemPrompt(), conv.Messages[1:], registry.All(), choice)
		if callErr == nil {
			return result, nil
		}

		switch callErr.Kind {
		case ErrKindRateLimited:
			rateLimitAttempts++
			if rateLimitAttempts > MaxRateLimitAttempts {
				return nil, &errs.ProviderError{Provider: provider.Name(), Message: "rate limit retries exhausted", Cause: callErr}
			}
			delay := callErr.RetryAfter
			if delay <= 0 {
				delay = backoff.ComputeBackoff(backoff.DefaultPolicy(), rateLimitAttempts)
			}
			if err := backoff.SleepWithContext(ctx, delay); err != nil {
				return nil, err
			}

		case ErrKindToolChoiceRejected:
			next, ok := choice.Downgrade()
			if !ok {
				return nil, &errs.ProviderError{Provider: provider.Name(), Message: "tool_choice downgrade exhausted", Cause: callErr}
			}
			choice = next

		case ErrKindServer, ErrKindTransient:
			serverErrAttempts++
			if serverErrAttempts > MaxServerErrorAttempts {
				return nil, &errs.ProviderError{Provider: provider.Name(), Message: "server error retries exhausted", Cause: callErr}
			}
			if err := backoff.SleepWithBackoff(ctx, backoff.DefaultPolicy(), serverErrAttempts); err != nil {
				return nil, err
			}

		case ErrKindProtocol:
			// Treated as ProviderError after one retry (spec §7).
			serverErrAttempts++
			if serverErrAttempts > 1 {
				return nil, &errs.ProviderError{Provider: provider.Name(), Message: "protocol error", Cause: callErr}
			}

		default:
			return nil, fmt.Errorf("unclassified provider error: %w", callErr)
		}
	}
}
