package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/model"
)

func TestMessageJSONRoundTrip(t *testing.T) {
	msg := model.Message{
		ID:        "m1",
		SessionID: "s1",
		BranchID:  "b1",
		Role:      model.RoleAssistant,
		CreatedAt: 42,
		Parts: []model.Part{
			model.TextPart{Text: "hello"},
			model.ReasoningPart{Text: "hmm"},
			model.ToolCallPart{ToolCallID: "t1", ToolName: "read", Input: json.RawMessage(`{"path":"/a"}`)},
			model.ToolResultPart{ToolCallID: "t1", ToolName: "read", Output: model.ToolOutput{
				Type: model.OutputTypeJSON, Value: json.RawMessage(`{"content":"X"}`),
			}},
		},
	}

	first, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded model.Message
	require.NoError(t, json.Unmarshal(first, &decoded))
	require.Len(t, decoded.Parts, 4)
	assert.Equal(t, msg.Parts[0], decoded.Parts[0])
	tc, ok := decoded.Parts[2].(model.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "read", tc.ToolName)

	// Re-encoding the decoded message is byte-identical: the part
	// discriminator ordering is stable.
	second, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestUnknownPartTypeFailsDecode(t *testing.T) {
	raw := `{"id":"m1","session_id":"s1","branch_id":"b1","role":"assistant","created_at_unix_nano":1,
		"parts":[{"type":"hologram","data":{}}]}`
	var decoded model.Message
	err := json.Unmarshal([]byte(raw), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown part type")
}

func TestToolOutputHelpers(t *testing.T) {
	ok := model.JSONResult(map[string]int{"n": 1})
	assert.Equal(t, model.OutputTypeJSON, ok.Type)
	assert.JSONEq(t, `{"n":1}`, string(ok.Value))

	bad := model.ErrorResult("boom")
	assert.Equal(t, model.OutputTypeErrorJSON, bad.Type)
	assert.JSONEq(t, `{"error":"boom"}`, string(bad.Value))
}
