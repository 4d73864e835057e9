package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/batonflow/baton/pkg/schema"
)

const (
	defaultCommandTimeout = 60 * time.Second
	maxCommandOutput      = 10 * 1024 * 1024 // 10MB
)

// execLookPath is swappable in tests so hasCommand() facts stay hermetic.
var execLookPath = exec.LookPath

// CommandAgent runs a subprocess per invocation: the input payload is
// written to stdin as JSON, stdout is the agent's output. Stdout that
// parses as JSON becomes a structured value; anything else is returned as a
// trimmed string.
type CommandAgent struct {
	def Definition
}

var _ Agent = (*CommandAgent)(nil)

// NewCommandAgent wraps a definition as an invocable agent.
func NewCommandAgent(def Definition) *CommandAgent {
	return &CommandAgent{def: def}
}

// Name returns the agent's name.
func (a *CommandAgent) Name() string { return a.def.Name }

// Info returns the agent summary for listings.
func (a *CommandAgent) Info() Info {
	return Info{
		Name:        a.def.Name,
		Kind:        a.def.Kind,
		Description: a.def.Description,
	}
}

// Definition returns the definition this agent was built from.
func (a *CommandAgent) Definition() Definition { return a.def }

// Invoke runs the command once under the definition's timeout and returns
// the parsed stdout. A non-zero exit fails the invocation with stderr in
// the error details.
func (a *CommandAgent) Invoke(ctx context.Context, input map[string]any) (any, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"marshal input for agent %q", a.def.Name).WithCause(err)
	}

	execCtx, cancel := context.WithTimeout(ctx, a.def.TimeoutOrDefault(defaultCommandTimeout))
	defer cancel()

	cmd := exec.CommandContext(execCtx, a.def.Command, a.def.Args...)
	cmd.Stdin = bytes.NewReader(payload)

	// Inherit the host environment plus definition overrides.
	if len(a.def.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range a.def.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: maxCommandOutput}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxCommandOutput}

	runErr := cmd.Run()
	if runErr != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"agent %q timed out after %s", a.def.Name, a.def.TimeoutOrDefault(defaultCommandTimeout)).
				WithCause(execCtx.Err())
		}
		if ctx.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeCancelled,
				"agent %q cancelled", a.def.Name).WithCause(ctx.Err())
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"agent %q exited with code %d", a.def.Name, exitErr.ExitCode()).
				WithCause(runErr).
				WithDetails(map[string]any{
					"exit_code": exitErr.ExitCode(),
					"stderr":    truncate(stderr.String(), 2048),
				})
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"agent %q failed to start: %s", a.def.Name, runErr.Error()).WithCause(runErr)
	}

	return parseOutput(stdout.Bytes()), nil
}

// parseOutput decodes stdout as JSON when possible, otherwise returns the
// trimmed raw text. Empty output becomes nil.
func parseOutput(out []byte) any {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		return value
	}
	return trimmed
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// limitedWriter caps captured output so a runaway agent cannot exhaust
// memory. Writes past the limit are silently discarded.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - int64(lw.w.Len())
	if remaining <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		lw.w.Write(p[:remaining])
		return len(p), nil
	}
	return lw.w.Write(p)
}
