package toolrunner_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/eventstore/inmem"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/policy"
	"github.com/gentcli/gent/internal/tools"
	"github.com/gentcli/gent/internal/toolrunner"
)

func newRunner(t *testing.T, pol *policy.Policy) (*toolrunner.Runner, *tools.Registry, eventstore.Store) {
	t.Helper()
	reg := tools.NewRegistry()
	events := inmem.New()
	t.Cleanup(func() { events.Close() })
	perms := interaction.NewPermissionHandler(events)
	return toolrunner.New(reg, pol, perms, events, 0), reg, events
}

func TestRunUnknownToolReturnsErrorJSON(t *testing.T) {
	runner, _, _ := newRunner(t, policy.New(true))
	part, err := runner.Run(context.Background(), toolrunner.Request{
		SessionID: "s1", BranchID: "b1", ToolCallID: "t1", ToolName: "nope", Input: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutputTypeErrorJSON, part.Output.Type)
	assert.Contains(t, string(part.Output.Value), "unknown tool")
}

func TestRunAllowedToolExecutesAndEmitsEvents(t *testing.T) {
	runner, reg, events := newRunner(t, policy.New(true))
	reg.Register(tools.Definition{
		Name: "echo",
		Execute: func(_ context.Context, input []byte, _ tools.ExecContext) (any, error) {
			return map[string]string{"echoed": string(input)}, nil
		},
	})

	sub, err := events.Subscribe(context.Background(), eventstore.SubscribeOptions{BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	part, err := runner.Run(context.Background(), toolrunner.Request{
		SessionID: "s1", BranchID: "b1", ToolCallID: "t1", ToolName: "echo", Input: []byte(`{"x":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutputTypeJSON, part.Output.Type)

	started := <-sub.Envelopes()
	assert.Equal(t, eventstore.EventToolCallStarted, started.Event.Type)
	completed := <-sub.Envelopes()
	assert.Equal(t, eventstore.EventToolCallCompleted, completed.Event.Type)
}

func TestRunDeniedByPolicySkipsExecution(t *testing.T) {
	pol := policy.New(true)
	pol.AddRule(policy.Rule{Tool: "bash", Action: policy.ActionDeny})
	runner, reg, _ := newRunner(t, pol)

	var executed atomic.Bool
	reg.Register(tools.Definition{
		Name: "bash",
		Execute: func(context.Context, []byte, tools.ExecContext) (any, error) {
			executed.Store(true)
			return nil, nil
		},
	})

	part, err := runner.Run(context.Background(), toolrunner.Request{
		SessionID: "s1", BranchID: "b1", ToolCallID: "t1", ToolName: "bash", Input: []byte(`{"command":"rm -rf /"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutputTypeErrorJSON, part.Output.Type)
	assert.Contains(t, string(part.Output.Value), "denied")
	assert.False(t, executed.Load())
}

func TestRunAskFlowsThroughPermissionHandler(t *testing.T) {
	events := inmem.New()
	defer events.Close()
	reg := tools.NewRegistry()
	perms := interaction.NewPermissionHandler(events)
	runner := toolrunner.New(reg, policy.New(false), perms, events, 0)

	reg.Register(tools.Definition{
		Name: "bash",
		Execute: func(context.Context, []byte, tools.ExecContext) (any, error) {
			return "ok", nil
		},
	})

	sub, err := events.Subscribe(context.Background(), eventstore.SubscribeOptions{BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	resultCh := make(chan model.ToolResultPart, 1)
	go func() {
		part, _ := runner.Run(context.Background(), toolrunner.Request{
			SessionID: "s1", BranchID: "b1", ToolCallID: "t1", ToolName: "bash", Input: []byte(`{"command":"ls"}`),
		})
		resultCh <- part
	}()

	var reqID string
	for {
		env := <-sub.Envelopes()
		if env.Event.Type == eventstore.EventPermissionRequested {
			var data eventstore.PermissionRequestedData
			require.NoError(t, json.Unmarshal(env.Event.Data, &data))
			reqID = data.RequestID
			break
		}
	}
	require.NotEmpty(t, reqID)
	perms.Respond(reqID, interaction.PermissionResponse{Allow: true})

	select {
	case part := <-resultCh:
		assert.Equal(t, model.OutputTypeJSON, part.Output.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestRunValidatesInputAgainstSchema(t *testing.T) {
	runner, reg, _ := newRunner(t, policy.New(true))
	reg.Register(tools.Definition{
		Name:   "typed",
		Schema: []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
		Execute: func(context.Context, []byte, tools.ExecContext) (any, error) {
			return "ok", nil
		},
	})

	part, err := runner.Run(context.Background(), toolrunner.Request{
		SessionID: "s1", BranchID: "b1", ToolCallID: "t1", ToolName: "typed", Input: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutputTypeErrorJSON, part.Output.Type)

	part, err = runner.Run(context.Background(), toolrunner.Request{
		SessionID: "s1", BranchID: "b1", ToolCallID: "t2", ToolName: "typed", Input: []byte(`{"path":"a.go"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutputTypeJSON, part.Output.Type)
}
