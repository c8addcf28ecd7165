package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/model"
)

func TestTranslateFinishReason(t *testing.T) {
	assert.Equal(t, model.FinishReasonToolCalls, translateFinishReason("tool_calls"))
	assert.Equal(t, model.FinishReasonToolCalls, translateFinishReason("function_call"))
	assert.Equal(t, model.FinishReasonStop, translateFinishReason("stop"))
	assert.Equal(t, "length", translateFinishReason("length"))
}

func TestEncodeMessagesExpandsToolResults(t *testing.T) {
	msgs := []*model.Message{
		{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hello"}}},
		{Role: model.RoleAssistant, Parts: []model.Part{
			model.ToolCallPart{ToolCallID: "t1", ToolName: "read", Input: json.RawMessage(`{"path":"/a"}`)},
			model.ToolCallPart{ToolCallID: "t2", ToolName: "read", Input: json.RawMessage(`{"path":"/b"}`)},
		}},
		{Role: model.RoleTool, Parts: []model.Part{
			model.ToolResultPart{ToolCallID: "t1", Output: model.ToolOutput{Type: model.OutputTypeJSON, Value: json.RawMessage(`{"a":1}`)}},
			model.ToolResultPart{ToolCallID: "t2", Output: model.ToolOutput{Type: model.OutputTypeJSON, Value: json.RawMessage(`{"b":2}`)}},
		}},
	}
	out, err := encodeMessages(msgs, "sys")
	require.NoError(t, err)
	// system + user + assistant + one tool message per result part.
	require.Len(t, out, 5)
	require.NotNil(t, out[2].OfAssistant)
	assert.Len(t, out[2].OfAssistant.ToolCalls, 2)
	require.NotNil(t, out[3].OfTool)
	assert.Equal(t, "t1", out[3].OfTool.ToolCallID)
	require.NotNil(t, out[4].OfTool)
	assert.Equal(t, "t2", out[4].OfTool.ToolCallID)
}

func TestNormalizeArguments(t *testing.T) {
	assert.JSONEq(t, `{}`, string(normalizeArguments("")))
	assert.JSONEq(t, `{"x":1}`, string(normalizeArguments(`{"x":1}`)))
}

func TestResolveModelIDClassMapping(t *testing.T) {
	c := &Client{defaultModel: "default", highModel: "high", smallModel: "small"}
	assert.Equal(t, "explicit", c.resolveModelID(&model.Request{Model: "explicit"}))
	assert.Equal(t, "high", c.resolveModelID(&model.Request{ModelClass: model.ModelClassHighReasoning}))
	assert.Equal(t, "small", c.resolveModelID(&model.Request{ModelClass: model.ModelClassSmall}))
	assert.Equal(t, "default", c.resolveModelID(&model.Request{}))
}
