// Package model defines the provider-agnostic message, part, and streaming
// types consumed and produced by the Gent runtime. Providers (Anthropic,
// OpenAI, ...) translate their own wire formats into these types; the core
// runtime never sees a vendor-specific shape.
package model

import (
	"context"
	"encoding/json"
)

// ConversationRole identifies the speaker of a Message.
type ConversationRole string

const (
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
	RoleSystem    ConversationRole = "system"
	RoleTool      ConversationRole = "tool"
)

// Part is a marker interface implemented by every concrete message part
// type. Message.Parts is a slice of Part so a single message can interleave
// text, reasoning, images, tool calls, and tool results.
type Part interface {
	Kind() string
}

type (
	// TextPart carries plain assistant or user text.
	TextPart struct {
		Text string `json:"text"`
	}

	// ReasoningPart carries opaque model-internal reasoning/thinking content.
	// It is persisted but excluded from token estimation and
	// not streamed verbatim to the UI.
	ReasoningPart struct {
		Text string `json:"text"`
	}

	// ImagePart carries inline image content.
	ImagePart struct {
		Image     []byte `json:"image"`
		MediaType string `json:"media_type,omitempty"`
	}

	// ToolCallPart records a single tool invocation requested by the model.
	// Only ever appears in assistant messages.
	ToolCallPart struct {
		ToolCallID string          `json:"tool_call_id"`
		ToolName   string          `json:"tool_name"`
		Input      json.RawMessage `json:"input"`
	}

	// ToolResultPart records the outcome of one tool invocation. Only ever
	// appears in tool-role messages, one per matching ToolCallPart.
	ToolResultPart struct {
		ToolCallID string     `json:"tool_call_id"`
		ToolName   string     `json:"tool_name"`
		Output     ToolOutput `json:"output"`
	}

	// ToolOutput is the JSON-encoded result of a tool call, tagged success
	// or failure.
	ToolOutput struct {
		// Type is "json" on success or "error-json" on failure.
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
)

func (TextPart) Kind() string       { return "text" }
func (ReasoningPart) Kind() string  { return "reasoning" }
func (ImagePart) Kind() string      { return "image" }
func (ToolCallPart) Kind() string   { return "tool-call" }
func (ToolResultPart) Kind() string { return "tool-result" }

const (
	OutputTypeJSON      = "json"
	OutputTypeErrorJSON = "error-json"
)

// JSONResult builds a success ToolOutput from an arbitrary JSON-serializable
// value.
func JSONResult(v any) ToolOutput {
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": err.Error()})
		return ToolOutput{Type: OutputTypeErrorJSON, Value: raw}
	}
	return ToolOutput{Type: OutputTypeJSON, Value: raw}
}

// ErrorResult builds a failure ToolOutput from an error message.
func ErrorResult(msg string) ToolOutput {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return ToolOutput{Type: OutputTypeErrorJSON, Value: raw}
}

// Message is one immutable turn in a branch's conversation. Once
// persisted, a Message's Parts never change.
type Message struct {
	ID              string           `json:"id"`
	SessionID       string           `json:"session_id"`
	BranchID        string           `json:"branch_id"`
	Role            ConversationRole `json:"role"`
	Parts           []Part           `json:"parts"`
	CreatedAt       int64            `json:"created_at_unix_nano"`
	TurnDurationMs  int64            `json:"turn_duration_ms,omitempty"`
	Interrupted     bool             `json:"interrupted,omitempty"`
}

// ToolCalls returns every ToolCallPart in the message, in declaration order.
func (m Message) ToolCalls() []ToolCallPart {
	var out []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			out = append(out, tc)
		}
	}
	return out
}

// Text concatenates every TextPart in the message.
func (m Message) Text() string {
	var s string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			s += t.Text
		}
	}
	return s
}

type (
	// ToolSchema describes one tool's name, description, and JSON Schema
	// input shape, as passed to a provider alongside a Request.
	ToolSchema struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"input_schema"`
	}

	// Request is a single streaming or non-streaming completion request.
	Request struct {
		Model        string
		ModelClass   ModelClass
		Messages     []*Message
		Tools        []ToolSchema
		SystemPrompt string
		MaxTokens    int
		Temperature  float64
	}

	// Response is a non-streaming completion result, used by
	// Client.Complete (the summarizer and title-generation callers).
	Response struct {
		Message *Message
		Usage   TokenUsage
		Reason  string
	}

	// TokenUsage reports token accounting for a single model invocation.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		Model        string
		ModelClass   ModelClass
	}

	// ModelClass identifies a model family/tier. Providers map these to
	// concrete model identifiers.
	ModelClass string

	// Chunk is one fragment of a streaming completion.
	Chunk struct {
		Type       string
		Text       string
		ToolCallID string
		ToolName   string
		Input      json.RawMessage
		Reason     string
		Usage      *TokenUsage
	}

	// Client is the provider-agnostic model client consumed by the core
	// runtime.
	Client interface {
		Complete(ctx context.Context, req *Request) (*Response, error)
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Callers must drain Recv
	// until it returns a FinishChunk or a terminal error, then call Close.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}
)

const (
	ChunkTypeText     = "text"
	ChunkTypeThinking = "reasoning"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeFinish   = "finish"

	ModelClassDefault       ModelClass = "default"
	ModelClassHighReasoning ModelClass = "high-reasoning"
	ModelClassSmall         ModelClass = "small"

	// FinishReasonToolCalls indicates the model wants to invoke tools and
	// the loop should dispatch them before continuing.
	FinishReasonToolCalls = "tool_calls"
	// FinishReasonStop indicates a normal, final assistant reply.
	FinishReasonStop = "stop"
)
