package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Output: &buf})

	logger.Info("using api_key=sk-abcdefghijklmnopqrstuvwxyz1234567890")

	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnopqrstuvwxyz1234567890") {
		t.Fatalf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "REDACTED") {
		t.Fatalf("expected redaction marker, got: %s", out)
	}
}

func TestRedactsAttrValues(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Output: &buf})

	logger.Info("provider call failed", "token", "Bearer abcdefghijklmnopqrstuvwxyz")

	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnopqrstuvwxyz") {
		t.Fatalf("secret leaked into attr value: %s", out)
	}
}

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Output: &buf}).With("ticket_id", "T1")

	logger.Info("started")

	if !strings.Contains(buf.String(), `"ticket_id":"T1"`) {
		t.Fatalf("expected ticket_id field, got: %s", buf.String())
	}
}
