package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeValidSettings(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "settings.json")
	body := `{
		"llmConfigs": [{"model": "test-model", "endpoint": "http://localhost:1", "apiKey": "k"}],
		"gitConfig": {"repositoryUrl": "https://example.invalid/repo.git"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeValidPrompts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, role := range []string{"planning", "developer", "subagent", "compaction", "qualityassurance"} {
		if err := os.WriteFile(filepath.Join(dir, role+".txt"), []byte("prompt for "+role), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunAllChecksHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	settingsDir := t.TempDir()
	report := Run(context.Background(), Config{
		SettingsPath: writeValidSettings(t, settingsDir),
		PromptsDir:   writeValidPrompts(t),
		ServerURL:    srv.URL,
	})

	if !report.Healthy() {
		t.Fatalf("expected all checks healthy, got %+v", report.Checks)
	}
	if len(report.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(report.Checks))
	}
	for i := 1; i < len(report.Checks); i++ {
		if report.Checks[i-1].Name > report.Checks[i].Name {
			t.Fatalf("expected sorted checks, got %+v", report.Checks)
		}
	}
}

func TestRunMissingSettingsFileFails(t *testing.T) {
	report := Run(context.Background(), Config{
		SettingsPath: filepath.Join(t.TempDir(), "missing.json"),
		PromptsDir:   writeValidPrompts(t),
		ServerURL:    "http://localhost:1",
	})

	if report.Healthy() {
		t.Fatal("expected unhealthy report")
	}
	var found bool
	for _, c := range report.Checks {
		if c.Name == "settings" && !c.Healthy {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a failing settings check, got %+v", report.Checks)
	}
}

func TestRunUnreachableServerFails(t *testing.T) {
	settingsDir := t.TempDir()
	report := Run(context.Background(), Config{
		SettingsPath: writeValidSettings(t, settingsDir),
		PromptsDir:   writeValidPrompts(t),
		ServerURL:    "http://127.0.0.1:1",
	})

	if report.Healthy() {
		t.Fatal("expected unhealthy report")
	}
}
