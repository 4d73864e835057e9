// Package ui provides UIManager implementations for hosts embedding the
// engine: an interactive console prompt, a CEL policy layer that decides
// approvals without a human, and a no-op manager for headless runs.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/batonflow/baton/pkg/engine"
)

// timeRounding keeps durations in progress lines readable.
const timeRounding = time.Millisecond

// ConsoleUI implements engine.UIManager on a terminal: approval prompts
// read a y/n answer from in, progress lines go to out. Output goes to
// stderr by default so result JSON on stdout stays pipeable.
type ConsoleUI struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

var _ engine.UIManager = (*ConsoleUI)(nil)

// NewConsoleUI creates a ConsoleUI on stdin/stderr.
func NewConsoleUI() *ConsoleUI {
	return NewConsoleUIWith(os.Stdin, os.Stderr)
}

// NewConsoleUIWith creates a ConsoleUI on explicit streams.
func NewConsoleUIWith(in io.Reader, out io.Writer) *ConsoleUI {
	return &ConsoleUI{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// ShowApprovalPrompt prints the message and blocks for a y/n answer.
// Unrecognized answers re-prompt; ctx expiry (the step's approval timeout)
// aborts the read and returns the ctx error, which the engine resolves to
// rejection.
func (c *ConsoleUI) ShowApprovalPrompt(ctx context.Context, req engine.ApprovalRequest) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n--- approval required: %s ---\n", req.StepID)
	fmt.Fprintf(c.out, "%s\n", req.Message)
	if req.Timeout > 0 {
		fmt.Fprintf(c.out, "(auto-reject in %s)\n", req.Timeout)
	}

	type answer struct {
		text string
		err  error
	}
	// The reader goroutine outlives an abandoned prompt; the buffered
	// channel lets it finish without blocking.
	lines := make(chan answer, 1)
	go func() {
		for {
			fmt.Fprint(c.out, "approve? [y/n]: ")
			text, err := c.in.ReadString('\n')
			if err != nil {
				lines <- answer{err: err}
				return
			}
			switch strings.ToLower(strings.TrimSpace(text)) {
			case "y", "yes", "approve":
				lines <- answer{text: "y"}
				return
			case "n", "no", "reject":
				lines <- answer{text: "n"}
				return
			}
			fmt.Fprintln(c.out, "please answer y or n")
		}
	}()

	select {
	case a := <-lines:
		if a.err != nil {
			return false, fmt.Errorf("read approval answer: %w", a.err)
		}
		return a.text == "y", nil
	case <-ctx.Done():
		fmt.Fprintln(c.out, "\napproval timed out")
		return false, ctx.Err()
	}
}

// ShowWorkflowStart prints the run header.
func (c *ConsoleUI) ShowWorkflowStart(workflowID, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "▶ %s (run %s)\n", workflowID, shortID(runID))
}

// ShowWorkflowComplete prints the run summary line.
func (c *ConsoleUI) ShowWorkflowComplete(result *engine.ExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "✔ %s completed in %s (%d steps)\n",
		result.WorkflowID,
		result.CompletedAt.Sub(result.StartedAt).Round(timeRounding),
		result.Context.Iterations())
}

// ShowWorkflowError prints the run failure line.
func (c *ConsoleUI) ShowWorkflowError(workflowID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "✘ %s failed: %s\n", workflowID, err.Error())
}

// ShowStepProgress prints one line per completed step.
func (c *ConsoleUI) ShowStepProgress(stepID string, result *engine.StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mark := "✔"
	if !result.Success {
		mark = "✘"
	}
	line := fmt.Sprintf("  %s %s (%s", mark, stepID, result.Duration.Round(timeRounding))
	if result.Retries > 1 {
		line += fmt.Sprintf(", %d attempts", result.Retries)
	}
	line += ")"
	if !result.Success && result.Error != nil {
		line += " " + result.Error.Message
	}
	fmt.Fprintln(c.out, line)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
