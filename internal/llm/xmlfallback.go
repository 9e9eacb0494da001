package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/tool"
	"github.com/tidwall/gjson"
)

// xmlTagPattern matches <tool_call>...</tool_call> or
// <function_call>...</function_call>, case-insensitive, spanning newlines
// (spec §4.3 step 6).
var xmlTagPattern = regexp.MustCompile(`(?is)<(tool_call|function_call)>(.*?)</(?:tool_call|function_call)>`)

// ParseXMLFallbackCalls scans content for tool-call tags when the provider
// didn't return native tool_calls. It is strict about unknown tool names
// and schema-extra argument keys to prevent hallucinated side effects
// (spec §9 "XML fallback tool parser"). Returns nil if no tags are found
// (spec §8 boundary behaviour).
func ParseXMLFallbackCalls(content string, registry *tool.Registry) []ToolCall {
	matches := xmlTagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	var calls []ToolCall
	for i, m := range matches {
		raw := strings.TrimSpace(m[2])
		call, ok := parseOneXMLCall(raw, registry, i)
		if !ok {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

func parseOneXMLCall(raw string, registry *tool.Registry, index int) (ToolCall, bool) {
	if !json.Valid([]byte(raw)) {
		return ToolCall{}, false
	}

	name := gjson.Get(raw, "name").String()
	if name == "" {
		return ToolCall{}, false
	}

	t, ok := registry.Get(name)
	if !ok {
		return ToolCall{}, false
	}

	argsResult := gjson.Get(raw, "arguments")
	if !argsResult.Exists() {
		argsResult = gjson.Get(raw, "parameters")
	}

	var args json.RawMessage
	if argsResult.Exists() {
		args = json.RawMessage(argsResult.Raw)
	} else {
		args = json.RawMessage(`{}`)
	}

	if !argsWithinSchema(args, t.Schema()) {
		return ToolCall{}, false
	}

	return ToolCall{
		ID:        fmt.Sprintf("xmltc_%d", index),
		Name:      name,
		Arguments: args,
	}, true
}

// argsWithinSchema rejects arguments that contain any key not present in
// the tool's schema "properties" (spec §4.3 step 6: "arguments contain no
// keys outside the tool's schema").
func argsWithinSchema(args json.RawMessage, schema json.RawMessage) bool {
	var argMap map[string]json.RawMessage
	if err := json.Unmarshal(args, &argMap); err != nil {
		return false
	}
	if len(argMap) == 0 {
		return true
	}

	var parsed struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return false
	}

	for key := range argMap {
		if _, ok := parsed.Properties[key]; !ok {
			return false
		}
	}
	return true
}
