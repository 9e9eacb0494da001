package tool

import (
	"encoding/json"
	"testing"
)

type readArgs struct {
	Path   string `json:"path"`
	Offset *int   `json:"offset,omitempty"`
	Lines  *int   `json:"lines,omitempty"`
}

func TestDeriveSchemaRequiredVsOptional(t *testing.T) {
	raw := DeriveSchema(readArgs{}, "reads a file")

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatal(err)
	}

	required, _ := schema["required"].([]any)
	if len(required) != 1 || required[0] != "path" {
		t.Fatalf("expected only 'path' required, got %v", required)
	}

	props := schema["properties"].(map[string]any)
	if _, ok := props["offset"]; !ok {
		t.Error("expected offset property present")
	}
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"AddTask":       "add_task",
		"AddSubtask":    "add_subtask",
		"PlanningComplete": "planning_complete",
		"ID":            "id",
	}
	for in, want := range cases {
		if got := ToSnakeCase(in); got != want {
			t.Errorf("ToSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
