package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/ticket"
)

// wsFrame mirrors internal/hub's unexported wire envelope. Duplicated here
// because this package only ever talks to the real hub.Client, never to the
// wire directly, so there is no frame type to share across the package
// boundary.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// fakeServer answers both the REST ticket surface (internal/apiclient) and
// the websocket hub protocol (internal/hub) on the same base URL, mirroring
// the real control plane serving both from one origin.
type fakeServer struct {
	mu     sync.Mutex
	ticket *ticket.Ticket
	conns  []*websocket.Conn
	up     websocket.Upgrader
}

func newFakeServer(t *testing.T, seed *ticket.Ticket) *httptest.Server {
	t.Helper()
	f := &fakeServer{ticket: seed}
	srv := httptest.NewServer(http.HandlerFunc(f.route))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeServer) route(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		f.handleWS(w, r)
		return
	}
	f.handleREST(w, r)
}

func (f *fakeServer) handleREST(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rest := parts[3:]

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if f.ticket == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		// GetTicket
	case len(rest) == 1 && rest[0] == "branch" && r.Method == http.MethodPatch:
		f.ticket.Branch = body["branchName"].(string)
	case len(rest) == 1 && rest[0] == "activity" && r.Method == http.MethodPost:
		f.ticket.Activity = append(f.ticket.Activity, body["message"].(string))
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.ticket)
}

func (f *fakeServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame wsFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if frame.Type != "req" {
				continue
			}
			ok := true
			resp := wsFrame{Type: "res", ID: frame.ID, OK: &ok}
			respData, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, respData)
		}
	}()
}

func (f *fakeServer) broadcast(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame := wsFrame{Type: "event", Event: event, Payload: data}
	frameData, err := json.Marshal(frame)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		_ = conn.WriteMessage(websocket.TextMessage, frameData)
	}
}

func newFakeLLM(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"planning not finished yet"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func initRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "seed@example.com")
	run("config", "user.name", "seed")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "seed commit")
	return dir
}

func writePrompts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, role := range []string{"planning", "developer", "subagent", "compaction", "qualityassurance"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, role+".txt"), []byte(role+" prompt for {ticketId}"), 0o644))
	}
	return dir
}

func writeSettings(t *testing.T, llmURL, repoURL string) string {
	t.Helper()
	s := settings.Settings{
		LLMConfigs: []settings.LLMConfig{{Model: "test-model", Endpoint: llmURL, ContextLength: 128000}},
		GitConfig:  settings.GitConfig{RepositoryURL: repoURL, Username: "worker", Email: "worker@example.com"},
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func baseConfig(t *testing.T, ticketID, serverURL, llmURL, repoURL string) Config {
	return Config{
		TicketID:     ticketID,
		ServerURL:    serverURL,
		RepoPath:     filepath.Join(t.TempDir(), "workspace"),
		SettingsPath: writeSettings(t, llmURL, repoURL),
		PromptsDir:   writePrompts(t),
		AuthToken:    "token",
	}
}

func TestRunBootstrapsWorkspaceThenStopsOnCancel(t *testing.T) {
	seed := &ticket.Ticket{ID: "t-1", Title: "Add widget", Status: ticket.StatusBacklog}
	srv := newFakeServer(t, seed)
	llm := newFakeLLM(t)
	remote := initRemote(t)

	cfg := baseConfig(t, "t-1", srv.URL, llm.URL, remote)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// The ticket already exists, so Run proceeds straight past waitForTicket
	// into bootstrap and the reactive loop; the loop returns (without
	// propagating an error) once ctx is cancelled, so Run itself reports no
	// error (spec §4.1 step 7 is a clean shutdown, not a failure).
	err := Run(ctx, cfg)
	require.NoError(t, err)

	// The workspace was cloned and the feature branch created even though
	// the ticket never went active (spec §4.1 step 4 runs unconditionally).
	data, readErr := os.ReadFile(filepath.Join(cfg.RepoPath, "README.md"))
	require.NoError(t, readErr)
	require.Equal(t, "seed\n", string(data))
}

func TestRunWaitsForTicketBeforeBootstrapping(t *testing.T) {
	f := &fakeServer{ticket: nil}
	srv := httptest.NewServer(http.HandlerFunc(f.route))
	t.Cleanup(srv.Close)

	llm := newFakeLLM(t)
	remote := initRemote(t)
	cfg := baseConfig(t, "t-2", srv.URL, llm.URL, remote)

	// waitForTicket's poll timer fires every ticketPollInterval (5s); give
	// Run enough headroom to cross at least one more poll after the ticket
	// appears.
	ctx, cancel := context.WithTimeout(context.Background(), ticketPollInterval+2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	// The ticket does not exist yet: GetTicket 404s, so Run sits in
	// waitForTicket rather than bootstrapping a workspace.
	time.Sleep(200 * time.Millisecond)
	_, statErr := os.Stat(cfg.RepoPath)
	require.True(t, os.IsNotExist(statErr), "workspace must not be bootstrapped before the ticket exists")

	f.mu.Lock()
	f.ticket = &ticket.Ticket{ID: "t-2", Title: "Add widget", Status: ticket.StatusBacklog}
	f.mu.Unlock()

	// Once waitForTicket finds the ticket, Run proceeds to bootstrap and
	// then blocks in the reactive loop until ctx is cancelled, returning nil.
	err := <-done
	require.NoError(t, err)

	_, statErr = os.Stat(filepath.Join(cfg.RepoPath, "README.md"))
	require.NoError(t, statErr, "workspace should be bootstrapped once the ticket appears")
}

func mustMarshalTicket(t *testing.T, tk *ticket.Ticket) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(tk)
	require.NoError(t, err)
	return data
}

// TestRunCancelsActiveWorkWhenTicketLeavesActive exercises spec §4.1's
// "ticket left active mid-run" reactive-loop path: a ticketUpdated event
// naming a non-active status cancels the running active-work scope
// directly (internal/hub's handleEvent calls the cancelActive callback
// set by SetActiveWorkCancel), without the orchestrator's failure path
// ever reaching the control plane, since its one PATCH attempt uses the
// very context that was just cancelled.
func TestRunCancelsActiveWorkWhenTicketLeavesActive(t *testing.T) {
	seed := &ticket.Ticket{ID: "t-3", Title: "Add widget", Status: ticket.StatusActive}
	f := &fakeServer{ticket: seed}
	srv := httptest.NewServer(http.HandlerFunc(f.route))
	t.Cleanup(srv.Close)

	llmSrv := newFakeLLM(t) // never terminates: loops on ExitCompleted until cancelled.
	remote := initRemote(t)
	cfg := baseConfig(t, "t-3", srv.URL, llmSrv.URL, remote)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	// Give the reactive loop time to see the already-active ticket and
	// start an active-work scope.
	time.Sleep(200 * time.Millisecond)

	f.mu.Lock()
	f.ticket.Status = ticket.StatusBacklog
	ticketJSON := mustMarshalTicket(t, f.ticket)
	f.mu.Unlock()
	f.broadcast(t, "ticketUpdated", map[string]json.RawMessage{"ticket": ticketJSON})

	time.Sleep(200 * time.Millisecond)
	f.mu.Lock()
	status := f.ticket.Status
	f.mu.Unlock()
	require.Equal(t, ticket.StatusBacklog, status, "ticket must not be force-failed when simply taken out of active")

	cancel()
	err := <-done
	require.NoError(t, err)
}
