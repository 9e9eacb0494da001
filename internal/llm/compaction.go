package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/settings"
)

// MinCompactionBytes enforces a minimum absolute size before compaction
// runs, so trivial contexts are never summarized (spec §4.3.1
// "Thresholds: ... minimum absolute size (e.g., ~3 KB)").
const MinCompactionBytes = 3 * 1024

// bytesPerToken approximates token count from byte length for the
// compaction threshold check (spec §4.3 step 11 projects "total prompt
// length (bytes)" against contextLength, which is token-denominated).
const bytesPerToken = 4

// ShouldCompact reports whether conv's projected size crosses
// contextSizePercent of the provider's context window, subject to the
// minimum absolute size floor.
func ShouldCompact(conv *Conversation, mode settings.CompactionMode, contextLength int, contextSizePercent float64) bool {
	if mode != settings.CompactionSummarize {
		return false
	}
	size := conv.ByteLength()
	if size < MinCompactionBytes {
		return false
	}
	thresholdBytes := float64(contextLength) * bytesPerToken * contextSizePercent
	return float64(size) >= thresholdBytes
}

var summaryBlockPattern = regexp.MustCompile(`(?is)<summary>(.*?)</summary>`)
var memoryLinePattern = regexp.MustCompile(`(?m)^([A-Za-z][A-Za-z0-9_-]*):\s*(.+)$`)

// Compact replaces conv's history with a model-generated summary and hoists
// labelled memory lines, per spec §4.3.1. On failure (malformed or missing
// response) conv is left untouched and the error is returned for the caller
// to log as an activity-log warning; it never aborts the turn loop.
func Compact(ctx context.Context, provider *Provider, conv *Conversation, compactionSystemPrompt string) error {
	history := conv.Messages
	if len(history) > 0 && history[0].Role == RoleSystem {
		history = history[1:]
	}

	result, callErr := provider.Complete(ctx, compactionSystemPrompt, history, nil, ToolChoiceOmit)
	if callErr != nil {
		return fmt.Errorf("compaction call failed: %w", callErr)
	}

	summary, labels, ok := parseCompactionResponse(result.Content)
	if !ok {
		return fmt.Errorf("compaction response missing <summary> block")
	}

	conv.Messages = []Message{
		{Role: RoleSystem, Content: conv.SystemPrompt},
		{Role: RoleUser, Content: "Summary of prior conversation:\n" + summary},
	}
	for label, text := range labels {
		conv.Memories.Add(label, text)
	}
	return nil
}

func parseCompactionResponse(content string) (summary string, labels map[string]string, ok bool) {
	match := summaryBlockPattern.FindStringSubmatch(content)
	if match == nil {
		return "", nil, false
	}
	summary = strings.TrimSpace(match[1])

	labels = make(map[string]string)
	for _, line := range memoryLinePattern.FindAllStringSubmatch(content, -1) {
		labels[line[1]] = strings.TrimSpace(line[2])
	}
	return summary, labels, true
}
