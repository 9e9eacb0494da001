package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

// idleTimeout auto-kills a persistent session after this much inactivity
// (SPEC_FULL §6 "Persistent shell session lifecycle metrics").
const idleTimeout = 10 * time.Minute

// session is one long-lived PTY-like shell keyed by ticket/subtask identity
// (spec §4.4 "shell.persistent: long-lived PTY-like session keyed in the
// tool context").
type session struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	output    *limitedBuffer
	cursor    int
	done      chan struct{}
	idleTimer *time.Timer
	killed    bool
}

// Manager tracks persistent shell sessions, one per ticket/subtask key.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	res      resolver
}

// NewManager builds a persistent-session manager scoped to the workspace
// root.
func NewManager(workspace string) *Manager {
	return &Manager{
		sessions: map[string]*session{},
		res:      resolver{root: workspace},
	}
}

func sessionKey(tc tool.Context) string {
	return tc.TicketID + "|" + tc.SubtaskID
}

func (m *Manager) get(key string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

func (m *Manager) set(key string, s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = s
}

func (m *Manager) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

func (m *Manager) start(key string, workDir string) (*session, error) {
	if _, ok := m.get(key); ok {
		return nil, fmt.Errorf("persistent shell session already running")
	}

	dir, err := m.res.resolve(workDir)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("/bin/sh")
	cmd.Dir = dir
	cmd.Env = os.Environ()
	output := newLimitedBuffer(defaultMaxOutput)
	cmd.Stdout = output
	cmd.Stderr = output

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start persistent shell: %w", err)
	}

	s := &session{
		cmd:    cmd,
		stdin:  stdin,
		output: output,
		done:   make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		close(s.done)
	}()

	m.set(key, s)
	s.armIdleTimer(func() { m.kill(key) })
	return s, nil
}

func (s *session) armIdleTimer(onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimer = time.AfterFunc(idleTimeout, onExpire)
}

func (s *session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Reset(idleTimeout)
	}
}

func (s *session) send(input string, clearFirst bool) (string, error) {
	select {
	case <-s.done:
		return "", fmt.Errorf("persistent shell session has exited")
	default:
	}

	s.touch()

	if clearFirst {
		s.output.Reset()
		s.mu.Lock()
		s.cursor = 0
		s.mu.Unlock()
	}

	if _, err := io.WriteString(s.stdin, input+"\n"); err != nil {
		return "", fmt.Errorf("write to persistent shell: %w", err)
	}

	// Give the command a moment to produce output before reading back what
	// accumulated, mirroring the teacher's settle-then-read pattern for
	// interactive exec sessions.
	time.Sleep(300 * time.Millisecond)

	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	out := s.output.Since(cursor)

	s.mu.Lock()
	s.cursor = s.output.Len()
	s.mu.Unlock()

	return out, nil
}

func (s *session) kill() {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return
	}
	s.killed = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.stdin.Close()
}

func (m *Manager) kill(key string) {
	s, ok := m.get(key)
	if !ok {
		return
	}
	s.kill()
	m.delete(key)
}

// PersistentTool implements shell.persistent: start, send, kill actions
// against a session keyed by the current ticket/subtask identity.
type PersistentTool struct {
	manager *Manager
}

// NewPersistentTool builds the shell.persistent tool over a shared session
// manager.
func NewPersistentTool(manager *Manager) *PersistentTool {
	return &PersistentTool{manager: manager}
}

func (t *PersistentTool) Name() string { return "shell_persistent" }
func (t *PersistentTool) Description() string {
	return "Start, send input to, or kill a long-lived shell session scoped to the current ticket and subtask."
}

type persistentArgs struct {
	Action     string `json:"action"`
	WorkDir    string `json:"work_dir,omitempty"`
	Input      string `json:"input,omitempty"`
	ClearFirst *bool  `json:"clear_first,omitempty"`
}

func (t *PersistentTool) Schema() json.RawMessage {
	return tool.DeriveSchema(persistentArgs{}, t.Description())
}

func (t *PersistentTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in persistentArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}

	key := sessionKey(tc)

	switch strings.ToLower(strings.TrimSpace(in.Action)) {
	case "start":
		workDir := in.WorkDir
		if workDir == "" {
			workDir = "."
		}
		if _, err := t.manager.start(key, workDir); err != nil {
			return &tool.Result{IsError: true, Response: err.Error()}, nil
		}
		return &tool.Result{Response: "persistent shell session started"}, nil

	case "send":
		s, ok := t.manager.get(key)
		if !ok {
			return &tool.Result{IsError: true, Response: "no persistent shell session is running; call start first"}, nil
		}
		clearFirst := in.ClearFirst != nil && *in.ClearFirst
		out, err := s.send(in.Input, clearFirst)
		if err != nil {
			return &tool.Result{IsError: true, Response: err.Error()}, nil
		}
		return &tool.Result{Response: tool.Truncate(out)}, nil

	case "kill":
		if _, ok := t.manager.get(key); !ok {
			return &tool.Result{IsError: true, Response: "no persistent shell session is running"}, nil
		}
		t.manager.kill(key)
		return &tool.Result{Response: "persistent shell session killed"}, nil

	default:
		return &tool.Result{IsError: true, Response: "unknown action: " + in.Action}, nil
	}
}
