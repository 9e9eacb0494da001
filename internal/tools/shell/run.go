// Package shell implements the shell.run and shell.persistent tools (spec
// §4.4), grounded on the teacher's internal/tools/exec package: buildCommand
// (workspace-scoped /bin/sh -c invocation with a limited output buffer) and
// the background-process bookkeeping in manager.go, adapted here into a
// one-shot runner plus a persistent session keyed by ticket/subtask identity
// instead of the teacher's flat process-id map.
package shell

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/ticketworker/internal/tool"
)

const defaultMaxOutput = 64000
const defaultTimeout = 5 * time.Minute

// RunTool implements shell.run: one-shot command execution capturing
// stdout, stderr, and exit code.
type RunTool struct {
	res resolver
}

// NewRunTool builds a one-shot shell tool scoped to the given workspace
// root.
func NewRunTool(workspace string) *RunTool {
	return &RunTool{res: resolver{root: workspace}}
}

func (t *RunTool) Name() string        { return "shell_run" }
func (t *RunTool) Description() string { return "Run a one-shot shell command and capture stdout, stderr, and exit code." }

type runArgs struct {
	Command string `json:"command"`
	WorkDir string `json:"work_dir"`
	Timeout *int   `json:"timeout_seconds,omitempty"`
}

func (t *RunTool) Schema() json.RawMessage {
	return tool.DeriveSchema(runArgs{}, t.Description())
}

func (t *RunTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in runArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if strings.TrimSpace(in.Command) == "" {
		return &tool.Result{IsError: true, Response: "Error: empty command"}, nil
	}
	if strings.TrimSpace(in.WorkDir) == "" {
		return &tool.Result{IsError: true, Response: "Error: work_dir is required"}, nil
	}

	dir, err := t.res.resolve(in.WorkDir)
	if err != nil {
		return &tool.Result{IsError: true, Response: err.Error()}, nil
	}

	timeout := defaultTimeout
	if in.Timeout != nil && *in.Timeout > 0 {
		timeout = time.Duration(*in.Timeout) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", in.Command)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	stdout := newLimitedBuffer(defaultMaxOutput)
	stderr := newLimitedBuffer(defaultMaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()

	var b strings.Builder
	b.WriteString("exit_code: ")
	b.WriteString(strconv.Itoa(exitCode(runErr)))
	b.WriteString("\n--- stdout ---\n")
	b.WriteString(stdout.String())
	b.WriteString("\n--- stderr ---\n")
	b.WriteString(stderr.String())

	return &tool.Result{Response: tool.Truncate(b.String())}, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
