package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gentcli/gent/internal/toolerrors"
	"github.com/gentcli/gent/internal/tools"
)

// maxFetchBytes bounds how much of a response body the fetch tool returns.
const maxFetchBytes = 512 * 1024

// fetchTimeout bounds one fetch request.
const fetchTimeout = 30 * time.Second

type fetchInput struct {
	URL string `json:"url"`
}

// FetchTool returns the web fetcher: GET a URL and return the body text.
func FetchTool() tools.Definition {
	client := &http.Client{Timeout: fetchTimeout}
	return tools.Definition{
		Name:        "fetch",
		Description: "Fetch a URL over HTTP GET and return the response body as text (512KB cap).",
		Concurrency: tools.Parallel,
		ReadOnly:    true,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "http or https URL"}
			},
			"required": ["url"]
		}`),
		Execute: func(ctx context.Context, input []byte, _ tools.ExecContext) (any, error) {
			var in fetchInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "unsupported URL scheme: %s", in.URL)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
			if err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "build request: %v", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "fetch %s: %v", in.URL, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
			if err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeExecutionError, "read body: %v", err)
			}
			truncated := false
			if len(body) > maxFetchBytes {
				body, truncated = body[:maxFetchBytes], true
			}
			return map[string]any{
				"status":       resp.StatusCode,
				"content_type": resp.Header.Get("Content-Type"),
				"body":         string(body),
				"truncated":    truncated,
			}, nil
		},
	}
}
