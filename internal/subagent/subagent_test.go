package subagent_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/agentreg"
	"github.com/gentcli/gent/internal/eventstore"
	esinmem "github.com/gentcli/gent/internal/eventstore/inmem"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/policy"
	"github.com/gentcli/gent/internal/session"
	sessinmem "github.com/gentcli/gent/internal/session/inmem"
	"github.com/gentcli/gent/internal/subagent"
	"github.com/gentcli/gent/internal/toolrunner"
	"github.com/gentcli/gent/internal/tools"
)

type scriptedClient struct {
	mu      sync.Mutex
	scripts [][]model.Chunk
	errs    []error
	calls   int
}

func (c *scriptedClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, errors.New("not used")
}

func (c *scriptedClient) Stream(ctx context.Context, _ *model.Request) (model.Streamer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	var script []model.Chunk
	if i < len(c.scripts) {
		script = c.scripts[i]
	}
	return &scriptedStream{chunks: script}, nil
}

type scriptedStream struct {
	chunks []model.Chunk
	pos    int
}

func (s *scriptedStream) Recv() (model.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return model.Chunk{}, errors.New("script exhausted")
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error { return nil }

func newRunner(t *testing.T, client model.Client) (*subagent.Runner, session.Store, eventstore.Store, *tools.Registry) {
	t.Helper()
	store := sessinmem.New()
	events := esinmem.New()
	t.Cleanup(func() { events.Close() })

	agents := agentreg.NewRegistry()
	require.NoError(t, agents.Register(agentreg.Definition{
		Name:  "explore",
		Tools: []string{"ls"},
	}))
	require.NoError(t, agents.Register(agentreg.Definition{
		Name:                "cowork",
		CanDelegateToAgents: []string{"explore"},
	}))
	require.NoError(t, agents.Register(agentreg.Definition{Name: "loner"}))

	reg := tools.NewRegistry()
	perms := interaction.NewPermissionHandler(events)
	toolRunner := toolrunner.New(reg, policy.New(true), perms, events, 0)

	runner := subagent.New(subagent.Config{
		Store:  store,
		Events: events,
		Runner: toolRunner,
		Client: client,
		Tools:  reg,
		Agents: agents,
	})
	return runner, store, events, reg
}

func TestRunDelegatesAndReturnsFinalText(t *testing.T) {
	client := &scriptedClient{scripts: [][]model.Chunk{
		{
			{Type: model.ChunkTypeToolCall, ToolCallID: "t1", ToolName: "ls", Input: json.RawMessage(`{"path":"."}`)},
			{Type: model.ChunkTypeFinish, Reason: model.FinishReasonToolCalls},
		},
		{
			{Type: model.ChunkTypeText, Text: "README.md and DESIGN.md"},
			{Type: model.ChunkTypeFinish, Reason: model.FinishReasonStop},
		},
	}}
	runner, store, events, reg := newRunner(t, client)
	reg.Register(tools.Definition{
		Name: "ls",
		Execute: func(context.Context, []byte, tools.ExecContext) (any, error) {
			return map[string]any{"entries": []string{"README.md", "DESIGN.md"}}, nil
		},
	})

	sub, err := events.Subscribe(context.Background(), eventstore.SubscribeOptions{SessionID: "parent"})
	require.NoError(t, err)
	defer sub.Close()

	result, err := runner.Run(context.Background(), "parent", "cowork", "explore", "list .md files")
	require.NoError(t, err)
	assert.Equal(t, "README.md and DESIGN.md", result.Text)
	assert.Equal(t, "explore", result.AgentName)
	require.NotEmpty(t, result.SessionID)

	// Child history: prompt, assistant+tool-call, tool, assistant.
	branch, err := store.GetLatestBranch(context.Background(), result.SessionID)
	require.NoError(t, err)
	msgs, err := store.ListMessages(context.Background(), branch.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "list .md files", msgs[0].Text())

	spawned := <-sub.Envelopes()
	assert.Equal(t, eventstore.EventSubagentSpawned, spawned.Event.Type)
	completed := <-sub.Envelopes()
	assert.Equal(t, eventstore.EventSubagentCompleted, completed.Event.Type)
	var data eventstore.SubagentCompletedData
	require.NoError(t, json.Unmarshal(completed.Event.Data, &data))
	assert.True(t, data.Success)
	assert.Equal(t, result.SessionID, data.ChildSessionID)
}

func TestRunRefusesUndeclaredDelegation(t *testing.T) {
	runner, _, _, _ := newRunner(t, &scriptedClient{})
	_, err := runner.Run(context.Background(), "parent", "loner", "explore", "do it")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "may not delegate")
}

func TestRunRetriesTransientProviderFailures(t *testing.T) {
	transientErr := model.NewProviderError("test", "stream", 529, model.ErrKindUnavailable, "", "overloaded", "", true, nil)
	client := &scriptedClient{
		errs: []error{transientErr, nil},
		scripts: [][]model.Chunk{
			nil, // consumed by the failing attempt
			{
				{Type: model.ChunkTypeText, Text: "ok"},
				{Type: model.ChunkTypeFinish, Reason: model.FinishReasonStop},
			},
		},
	}
	runner, _, _, _ := newRunner(t, client)

	result, err := runner.Run(context.Background(), "parent", "cowork", "explore", "try")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
}

func TestRunFatalProviderFailureIsNotRetried(t *testing.T) {
	fatalErr := model.NewProviderError("test", "stream", 401, model.ErrKindAuth, "", "bad key", "", false, nil)
	client := &scriptedClient{errs: []error{fatalErr, nil, nil}}
	runner, _, events, _ := newRunner(t, client)

	sub, err := events.Subscribe(context.Background(), eventstore.SubscribeOptions{SessionID: "parent"})
	require.NoError(t, err)
	defer sub.Close()

	_, err = runner.Run(context.Background(), "parent", "cowork", "explore", "try")
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)

	<-sub.Envelopes() // spawned
	completed := <-sub.Envelopes()
	var data eventstore.SubagentCompletedData
	require.NoError(t, json.Unmarshal(completed.Event.Data, &data))
	assert.False(t, data.Success)
}
