// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API via github.com/openai/openai-go. It mirrors
// the anthropic adapter's shape: a thin client that translates Gent
// requests into vendor params and vendor chunks back into model.Chunks.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/gentcli/gent/internal/model"
)

type (
	// CompletionsClient captures the subset of the OpenAI SDK used by the
	// adapter, satisfied by the real client's Chat.Completions service and by
	// mocks in tests.
	CompletionsClient interface {
		New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
		NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
	}

	// Options configures the OpenAI adapter.
	Options struct {
		DefaultModel string
		HighModel    string
		SmallModel   string
		MaxTokens    int
		Temperature  float64
	}

	// Client implements model.Client via OpenAI Chat Completions.
	Client struct {
		chat         CompletionsClient
		defaultModel string
		highModel    string
		smallModel   string
		maxTok       int
		temp         float64
	}
)

// New builds an OpenAI-backed model client.
func New(chat CompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		highModel:    opts.HighModel,
		smallModel:   opts.SmallModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, opts)
}

// Complete issues a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, classifyError("chat.completions.new", err)
	}
	return translateResponse(resp)
}

// Stream issues a streaming chat completion and adapts the SSE chunk stream
// into model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = sdk.ChatCompletionStreamOptionsParam{IncludeUsage: sdk.Bool(true)}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classifyError("chat.completions.new_streaming", err)
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	messages, err := encodeMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.resolveModelID(req)),
		Messages: messages,
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if maxTokens := req.MaxTokens; maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	} else if c.maxTok > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(c.maxTok))
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = sdk.Float(t)
	} else if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return &params, nil
}

func (c *Client) resolveModelID(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highModel != "" {
			return c.highModel
		}
	case model.ModelClassSmall:
		if c.smallModel != "" {
			return c.smallModel
		}
	}
	return c.defaultModel
}

func encodeMessages(msgs []*model.Message, systemPrompt string) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, sdk.SystemMessage(systemPrompt))
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			if text := m.Text(); text != "" {
				out = append(out, sdk.SystemMessage(text))
			}
		case model.RoleUser:
			if text := m.Text(); text != "" {
				out = append(out, sdk.UserMessage(text))
			}
		case model.RoleAssistant:
			asst := sdk.ChatCompletionAssistantMessageParam{}
			if text := m.Text(); text != "" {
				asst.Content.OfString = sdk.String(text)
			}
			for _, tc := range m.ToolCalls() {
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: tc.ToolCallID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.ToolName,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case model.RoleTool:
			// One tool message per result part; OpenAI pairs each with its
			// originating call by tool_call_id.
			for _, p := range m.Parts {
				tr, ok := p.(model.ToolResultPart)
				if !ok {
					continue
				}
				out = append(out, sdk.ToolMessage(string(tr.Output.Value), tr.ToolCallID))
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeTools(defs []model.ToolSchema) []sdk.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		var params shared.FunctionParameters
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &params)
		}
		fn := shared.FunctionDefinitionParam{Name: def.Name, Parameters: params}
		if def.Description != "" {
			fn.Description = sdk.String(def.Description)
		}
		out = append(out, sdk.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func translateResponse(resp *sdk.ChatCompletion) (*model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty completion response")
	}
	choice := resp.Choices[0]
	out := &model.Message{Role: model.RoleAssistant}
	if choice.Message.Content != "" {
		out.Parts = append(out.Parts, model.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Parts = append(out.Parts, model.ToolCallPart{
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			Input:      normalizeArguments(tc.Function.Arguments),
		})
	}
	return &model.Response{
		Message: out,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			Model:        resp.Model,
		},
		Reason: translateFinishReason(string(choice.FinishReason)),
	}, nil
}

func normalizeArguments(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

// translateFinishReason maps OpenAI finish reasons onto the
// provider-agnostic values the loop branches on.
func translateFinishReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return model.FinishReasonToolCalls
	case "stop":
		return model.FinishReasonStop
	default:
		return reason
	}
}

func classifyError(op string, err error) error {
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return model.NewProviderError("openai", op, 0, model.ErrKindUnavailable, "", err.Error(), "", true, err)
	}
	status := apierr.StatusCode
	kind := model.ErrKindUnknown
	retryable := false
	switch {
	case status == http.StatusTooManyRequests:
		kind, retryable = model.ErrKindRateLimited, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = model.ErrKindAuth
	case status >= 500, status == http.StatusRequestTimeout:
		kind, retryable = model.ErrKindUnavailable, true
	case status >= 400:
		kind = model.ErrKindInvalidRequest
	}
	requestID := ""
	if apierr.Response != nil {
		requestID = apierr.Response.Header.Get("x-request-id")
	}
	return model.NewProviderError("openai", op, status, kind, apierr.Code, err.Error(), requestID, retryable, err)
}
