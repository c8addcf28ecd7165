package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/gentcli/gent/internal/toolerrors"
	"github.com/gentcli/gent/internal/tools"
)

// DefaultShellTimeout is the wall clock applied when a call does not set
// timeout_ms. Tools self-manage their timeouts; the runner imposes none.
const DefaultShellTimeout = 120 * time.Second

// maxOutputBytes bounds captured stdout/stderr so a chatty command cannot
// blow up the context window.
const maxOutputBytes = 64 * 1024

type shellInput struct {
	Command   string `json:"command"`
	CWD       string `json:"cwd,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// ShellTool returns the bash executor. Serial: concurrent shell commands
// interleave working-directory and file-handle state unpredictably.
func ShellTool() tools.Definition {
	return tools.Definition{
		Name:        "bash",
		Description: "Run a shell command with bash -c and capture its output. Default timeout 120s, override with timeout_ms.",
		Concurrency: tools.Serial,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"command": {"type": "string"},
				"cwd": {"type": "string"},
				"timeout_ms": {"type": "integer", "minimum": 1}
			},
			"required": ["command"]
		}`),
		Execute: func(ctx context.Context, input []byte, _ tools.ExecContext) (any, error) {
			var in shellInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			timeout := DefaultShellTimeout
			if in.TimeoutMs > 0 {
				timeout = time.Duration(in.TimeoutMs) * time.Millisecond
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, "bash", "-c", in.Command)
			if in.CWD != "" {
				cmd.Dir = in.CWD
			}
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			err := cmd.Run()
			result := map[string]any{
				"stdout": clip(stdout.Bytes()),
				"stderr": clip(stderr.Bytes()),
			}
			if ctx.Err() == context.DeadlineExceeded {
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "command timed out after %s", timeout)
			}
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					result["exit_code"] = exitErr.ExitCode()
					return result, nil
				}
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "run command: %v", err)
			}
			result["exit_code"] = 0
			return result, nil
		},
	}
}

func clip(b []byte) string {
	if len(b) > maxOutputBytes {
		return string(b[:maxOutputBytes]) + "\n... (output truncated)"
	}
	return string(b)
}
