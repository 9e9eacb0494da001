package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/tool"
)

// ToolChoice is the adaptive tool_choice mode the Engine downgrades through
// on HTTP 400 rejections (spec §4.3 step 4, GLOSSARY "Tool-choice
// downgrade").
type ToolChoice string

const (
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceOmit     ToolChoice = "omit"
)

// Downgrade returns the next weaker ToolChoice mode, or ("", false) if
// already at the weakest (Omit).
func (c ToolChoice) Downgrade() (ToolChoice, bool) {
	switch c {
	case ToolChoiceRequired:
		return ToolChoiceAuto, true
	case ToolChoiceAuto:
		return ToolChoiceOmit, true
	default:
		return "", false
	}
}

// Usage reports token consumption for spend tracking (spec §4.3 step 5).
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResult is a successful provider response.
type CompletionResult struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// ProviderErrorKind classifies a failed provider call for the Engine's
// retry/fallback decision (spec §4.3 step 4).
type ProviderErrorKind int

const (
	ErrKindTransient ProviderErrorKind = iota
	ErrKindRateLimited
	ErrKindToolChoiceRejected
	ErrKindServer
	ErrKindProtocol
)

// ProviderCallError carries enough detail for the Engine to decide whether
// to retry, downgrade tool_choice, or fall over to the next provider.
type ProviderCallError struct {
	Kind       ProviderErrorKind
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Cause      error
}

func (e *ProviderCallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider call failed (%s): %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("provider call failed: %s", e.Message)
}

func (e *ProviderCallError) Unwrap() error { return e.Cause }

// Provider posts chat completions to a single OpenAI-compatible endpoint
// (spec §4.3 step 3, §6 "LLM wire protocol"). A hand-rolled client is used
// rather than a vendor SDK so the adaptive tool_choice downgrade and the
// XML-fallback parser can inspect the raw request/response shape
// (DESIGN.md).
type Provider struct {
	cfg        settings.LLMConfig
	httpClient *http.Client
}

// NewProvider builds a Provider for one LLMConfig.
func NewProvider(cfg settings.LLMConfig) *Provider {
	return &Provider{cfg: cfg, httpClient: &http.Client{Timeout: 0}}
}

// Name identifies the provider for logging/failover bookkeeping.
func (p *Provider) Name() string { return p.cfg.Model }

// wireMessage is the OpenAI-compatible chat message shape on the wire.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string     `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete posts one chat/completions call (spec §4.3 step 3).
func (p *Provider) Complete(ctx context.Context, systemPrompt string, messages []Message, tools []tool.Tool, choice ToolChoice) (*CompletionResult, *ProviderCallError) {
	req := wireRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
	}
	req.Messages = append(req.Messages, wireMessage{Role: string(RoleSystem), Content: systemPrompt})
	for _, m := range messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		req.Messages = append(req.Messages, wm)
	}
	for _, t := range tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name()
		wt.Function.Description = t.Description()
		wt.Function.Parameters = t.Schema()
		req.Tools = append(req.Tools, wt)
	}
	switch choice {
	case ToolChoiceRequired:
		req.ToolChoice = "required"
	case ToolChoiceAuto:
		req.ToolChoice = "auto"
	case ToolChoiceOmit:
		// omit entirely
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ProviderCallError{Kind: ErrKindProtocol, Message: "marshal request", Cause: err}
	}

	endpoint := strings.TrimRight(p.cfg.ResolvedEndpoint(), "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderCallError{Kind: ErrKindProtocol, Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderCallError{Kind: ErrKindTransient, Message: "transport error", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderCallError{Kind: ErrKindTransient, Message: "read response", Cause: err}
	}

	if callErr := classifyHTTPError(resp, respBody); callErr != nil {
		return nil, callErr
	}

	var wr wireResponse
	if err := json.Unmarshal(respBody, &wr); err != nil {
		return nil, &ProviderCallError{Kind: ErrKindProtocol, Message: "decode response", Cause: err}
	}
	if len(wr.Choices) == 0 {
		return nil, &ProviderCallError{Kind: ErrKindProtocol, Message: "response had no choices"}
	}

	choice0 := wr.Choices[0]
	result := &CompletionResult{
		Content: choice0.Message.Content,
		Usage: Usage{
			InputTokens:  wr.Usage.PromptTokens,
			OutputTokens: wr.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice0.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

// EstimateCost computes spend from usage using the configured token
// prices, or 0 if unpriced (spec §4.3 step 5).
func (p *Provider) EstimateCost(u Usage) float64 {
	var cost float64
	if p.cfg.InputTokenPrice != nil {
		cost += float64(u.InputTokens) / 1000 * *p.cfg.InputTokenPrice
	}
	if p.cfg.OutputTokenPrice != nil {
		cost += float64(u.OutputTokens) / 1000 * *p.cfg.OutputTokenPrice
	}
	return cost
}

// ContextLength returns the configured context window size in tokens.
func (p *Provider) ContextLength() int { return p.cfg.ContextLength }

// classifyHTTPError inspects a non-transport HTTP response for the
// recognized rate-limit/tool_choice/server-error conditions (spec §4.3
// step 4). Returns nil when resp is a success (status < 300).
func classifyHTTPError(resp *http.Response, body []byte) *ProviderCallError {
	if resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests || bodyIndicatesRateLimit(body) {
		return &ProviderCallError{
			Kind:       ErrKindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp, body),
			Message:    "rate limited",
		}
	}

	if resp.StatusCode == http.StatusBadRequest && bodyNamesToolChoice(body) {
		return &ProviderCallError{
			Kind:       ErrKindToolChoiceRejected,
			StatusCode: resp.StatusCode,
			Message:    "provider rejected tool_choice",
		}
	}

	if resp.StatusCode >= 500 {
		return &ProviderCallError{Kind: ErrKindServer, StatusCode: resp.StatusCode, Message: "server error: " + string(body)}
	}

	return &ProviderCallError{Kind: ErrKindServer, StatusCode: resp.StatusCode, Message: "unexpected status: " + string(body)}
}

func bodyIndicatesRateLimit(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, `"code":429`) ||
		strings.Contains(lower, `"code":"429"`)
}

func bodyNamesToolChoice(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "tool_choice")
}

// parseRetryAfter extracts a retry-delay from Retry-After or
// X-RateLimit-Reset headers, or a remaining=0 body hint, normalizing
// millisecond epochs to a duration (spec §4.3 step 4).
func parseRetryAfter(resp *http.Response, body []byte) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return normalizeEpoch(ms)
		}
	}
	if strings.Contains(string(body), `"remaining":0`) {
		return 1 * time.Second
	}
	return 0
}

// normalizeEpoch treats a large value as a millisecond-epoch deadline and
// converts it to a relative duration from now; a small value is treated as
// an already-relative second count.
func normalizeEpoch(v int64) time.Duration {
	const epochThreshold = 1_000_000_000 // ~ seconds since 2001 in ms terms
	if v > epochThreshold {
		deadline := time.UnixMilli(v)
		d := time.Until(deadline)
		if d < 0 {
			return 0
		}
		return d
	}
	return time.Duration(v) * time.Second
}
