// Package builtin registers the concrete tool set the default agents run
// with: file I/O, shell, repo search, web fetch, and subagent delegation.
// Each tool is a plain tools.Definition; schemas are JSON Schema documents
// validated by the runner before Execute is called.
package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gentcli/gent/internal/toolerrors"
	"github.com/gentcli/gent/internal/tools"
)

// maxReadBytes bounds how much of a file the read tool returns.
const maxReadBytes = 256 * 1024

type readInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ReadTool returns the read-only file reader.
func ReadTool() tools.Definition {
	return tools.Definition{
		Name:        "read",
		Description: "Read a file from the local filesystem. Returns at most 256KB; use offset/limit (line numbers) for large files.",
		Concurrency: tools.Parallel,
		ReadOnly:    true,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Absolute or cwd-relative file path"},
				"offset": {"type": "integer", "minimum": 0},
				"limit": {"type": "integer", "minimum": 1}
			},
			"required": ["path"]
		}`),
		Execute: func(_ context.Context, input []byte, _ tools.ExecContext) (any, error) {
			var in readInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "read %s: %v", in.Path, err)
			}
			truncated := false
			if len(data) > maxReadBytes {
				data, truncated = data[:maxReadBytes], true
			}
			content := string(data)
			if in.Offset > 0 || in.Limit > 0 {
				lines := strings.Split(content, "\n")
				if in.Offset >= len(lines) {
					lines = nil
				} else {
					lines = lines[in.Offset:]
				}
				if in.Limit > 0 && in.Limit < len(lines) {
					lines = lines[:in.Limit]
					truncated = true
				}
				content = strings.Join(lines, "\n")
			}
			return map[string]any{"content": content, "truncated": truncated}, nil
		},
	}
}

type writeInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteTool returns the file writer. Writes are serial: two concurrent
// writes to the same path must not interleave.
func WriteTool() tools.Definition {
	return tools.Definition{
		Name:        "write",
		Description: "Write content to a file, creating parent directories as needed. Overwrites existing files.",
		Concurrency: tools.Serial,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`),
		Execute: func(_ context.Context, input []byte, _ tools.ExecContext) (any, error) {
			var in writeInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			if err := os.MkdirAll(filepath.Dir(in.Path), 0o755); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "create directories for %s: %v", in.Path, err)
			}
			if err := os.WriteFile(in.Path, []byte(in.Content), 0o644); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "write %s: %v", in.Path, err)
			}
			return map[string]any{"path": in.Path, "bytes": len(in.Content)}, nil
		},
	}
}

type listInput struct {
	Path string `json:"path"`
}

// ListTool returns the directory lister.
func ListTool() tools.Definition {
	return tools.Definition{
		Name:        "ls",
		Description: "List the entries of a directory.",
		Concurrency: tools.Parallel,
		ReadOnly:    true,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"}
			},
			"required": ["path"]
		}`),
		Execute: func(_ context.Context, input []byte, _ tools.ExecContext) (any, error) {
			var in listInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			entries, err := os.ReadDir(in.Path)
			if err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "list %s: %v", in.Path, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += string(filepath.Separator)
				}
				names = append(names, name)
			}
			return map[string]any{"entries": names}, nil
		},
	}
}
