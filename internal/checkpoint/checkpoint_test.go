package checkpoint_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/checkpoint"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/session"
	"github.com/gentcli/gent/internal/session/inmem"
)

type stubSummarizer struct {
	summary string
}

func (s stubSummarizer) Summarize(context.Context, []*model.Message, int) (string, error) {
	return s.summary, nil
}

func textMessage(branchID, text string) *model.Message {
	return &model.Message{BranchID: branchID, Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: text}}}
}

func session0() session.Session {
	return session.Session{Name: "test"}
}

func branch0(sessionID string) session.Branch {
	return session.Branch{SessionID: sessionID, Name: "main"}
}

func TestEstimateTokensExcludesReasoningParts(t *testing.T) {
	msgs := []*model.Message{
		{Parts: []model.Part{model.TextPart{Text: "abcd"}, model.ReasoningPart{Text: "ignored-entirely"}}},
	}
	assert.Equal(t, 1, checkpoint.EstimateTokens(msgs))
}

func TestShouldCompactRespectsThreshold(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	sess, err := store.CreateSession(ctx, session0())
	require.NoError(t, err)
	branch, err := store.CreateBranch(ctx, branch0(sess.ID))
	require.NoError(t, err)

	svc := checkpoint.New(store, stubSummarizer{}, 10)
	for i := 0; i < 5; i++ {
		_, err := store.CreateMessage(ctx, textMessage(branch.ID, "12345678"))
		require.NoError(t, err)
	}

	should, err := svc.ShouldCompact(ctx, branch.ID)
	require.NoError(t, err)
	assert.True(t, should, "5 messages * 8 chars / 4 = 10 tokens meets threshold 10")
}

func TestCreateCompactionCheckpointSplitsHeadAndTail(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	sess, err := store.CreateSession(ctx, session0())
	require.NoError(t, err)
	branch, err := store.CreateBranch(ctx, branch0(sess.ID))
	require.NoError(t, err)

	var lastID string
	for i := 0; i < 20; i++ {
		m, err := store.CreateMessage(ctx, textMessage(branch.ID, "hello"))
		require.NoError(t, err)
		lastID = m.ID
	}

	svc := checkpoint.New(store, stubSummarizer{summary: "recap"}, 1)
	cp, err := svc.CreateCompactionCheckpoint(ctx, branch.ID)
	require.NoError(t, err)
	require.NotNil(t, cp.Compaction)
	assert.Equal(t, "recap", cp.Compaction.Summary)
	assert.Equal(t, 10, cp.Compaction.MessageCount, "tail is max(ceil(0.2*20),10)=10, head is 10")
	assert.NotEqual(t, lastID, cp.Compaction.FirstKeptMessageID)
}

func TestLoadContextPrependsCompactionSummary(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	sess, err := store.CreateSession(ctx, session0())
	require.NoError(t, err)
	branch, err := store.CreateBranch(ctx, branch0(sess.ID))
	require.NoError(t, err)

	first, err := store.CreateMessage(ctx, textMessage(branch.ID, "first"))
	require.NoError(t, err)
	second, err := store.CreateMessage(ctx, textMessage(branch.ID, "second"))
	require.NoError(t, err)

	_, err = store.CreateCheckpoint(ctx, session.Checkpoint{
		BranchID:   branch.ID,
		Compaction: &session.CompactionCheckpoint{Summary: "summary text", FirstKeptMessageID: second.ID},
	})
	require.NoError(t, err)

	svc := checkpoint.New(store, stubSummarizer{}, checkpoint.DefaultCompactionThreshold)
	messages, err := svc.LoadContext(ctx, branch.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2, "synthetic summary + the one message at/after firstKeptMessageId")
	assert.Equal(t, "summary text", messages[0].Text())
	assert.Equal(t, second.ID, messages[1].ID)
	_ = first
}

func TestPruneToolOutputsKeepsRecentVerbatim(t *testing.T) {
	big := make([]byte, checkpoint.PruneProtect*4+checkpoint.PruneMinimum*4+100)
	for i := range big {
		big[i] = 'x'
	}
	oldResult := model.ToolResultPart{ToolCallID: "old", Output: model.ToolOutput{Type: model.OutputTypeJSON, Value: json.RawMessage(append([]byte{'"'}, append(big, '"')...))}}
	newResult := model.ToolResultPart{ToolCallID: "new", Output: model.ToolOutput{Type: model.OutputTypeJSON, Value: json.RawMessage(`"small"`)}}

	messages := []*model.Message{
		{ID: "m1", Parts: []model.Part{oldResult}},
		{ID: "m2", Parts: []model.Part{newResult}},
	}

	out := checkpoint.PruneToolOutputs(messages)
	require.Len(t, out, 2)

	pruned := out[0].Parts[0].(model.ToolResultPart)
	assert.Contains(t, string(pruned.Output.Value), "_pruned")

	kept := out[1].Parts[0].(model.ToolResultPart)
	assert.Equal(t, `"small"`, string(kept.Output.Value))
}

func TestPruneToolOutputsNoopBelowMinimumExcess(t *testing.T) {
	messages := []*model.Message{
		{ID: "m1", Parts: []model.Part{model.ToolResultPart{Output: model.ToolOutput{Value: json.RawMessage(`"small"`)}}}},
	}
	out := checkpoint.PruneToolOutputs(messages)
	assert.Same(t, messages[0], out[0])
}
