package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gentcli/gent/internal/toolerrors"
	"github.com/gentcli/gent/internal/tools"
)

// maxGrepMatches bounds how many matches one search returns.
const maxGrepMatches = 200

type grepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Glob    string `json:"glob,omitempty"`
}

type grepMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// GrepTool returns the repo search tool: a regex scan over a directory
// tree, skipping hidden directories and binary-looking files.
func GrepTool() tools.Definition {
	return tools.Definition{
		Name:        "grep",
		Description: "Search file contents under a directory with a Go regex. Returns file, line number, and matching line.",
		Concurrency: tools.Parallel,
		ReadOnly:    true,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string"},
				"path": {"type": "string", "description": "Root directory, default cwd"},
				"glob": {"type": "string", "description": "Filename glob filter, e.g. *.go"}
			},
			"required": ["pattern"]
		}`),
		Execute: func(ctx context.Context, input []byte, _ tools.ExecContext) (any, error) {
			var in grepInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			re, err := regexp.Compile(in.Pattern)
			if err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "compile pattern: %v", err)
			}
			root := in.Path
			if root == "" {
				root = "."
			}

			var matches []grepMatch
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if d.IsDir() {
					if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
						return filepath.SkipDir
					}
					return nil
				}
				if in.Glob != "" {
					if ok, _ := filepath.Match(in.Glob, d.Name()); !ok {
						return nil
					}
				}
				if len(matches) >= maxGrepMatches {
					return filepath.SkipAll
				}
				found, err := grepFile(path, re, maxGrepMatches-len(matches))
				if err != nil {
					return nil
				}
				matches = append(matches, found...)
				return nil
			})
			if err != nil && err != filepath.SkipAll {
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "walk %s: %v", root, err)
			}
			return map[string]any{"matches": matches, "truncated": len(matches) >= maxGrepMatches}, nil
		},
	}
}

func grepFile(path string, re *regexp.Regexp, budget int) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []grepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			// Binary file; skip the rest.
			return out, nil
		}
		if re.MatchString(line) {
			out = append(out, grepMatch{File: path, Line: lineNo, Text: line})
			if len(out) >= budget {
				return out, nil
			}
		}
	}
	return out, scanner.Err()
}
