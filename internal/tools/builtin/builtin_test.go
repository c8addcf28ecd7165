package builtin_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/eventstore/inmem"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/tools"
	"github.com/gentcli/gent/internal/tools/builtin"
)

func execute(t *testing.T, def tools.Definition, input string) map[string]any {
	t.Helper()
	result, err := def.Execute(context.Background(), []byte(input), tools.ExecContext{})
	require.NoError(t, err)
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "note.txt")

	write := builtin.WriteTool()
	out := execute(t, write, fmt.Sprintf(`{"path":%q,"content":"hello\nworld"}`, path))
	assert.Equal(t, float64(11), out["bytes"])

	read := builtin.ReadTool()
	out = execute(t, read, fmt.Sprintf(`{"path":%q}`, path))
	assert.Equal(t, "hello\nworld", out["content"])
	assert.Equal(t, false, out["truncated"])

	out = execute(t, read, fmt.Sprintf(`{"path":%q,"offset":1,"limit":1}`, path))
	assert.Equal(t, "world", out["content"])
}

func TestReadMissingFileReturnsError(t *testing.T) {
	read := builtin.ReadTool()
	_, err := read.Execute(context.Background(), []byte(`{"path":"/does/not/exist"}`), tools.ExecContext{})
	require.Error(t, err)
}

func TestListTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	ls := builtin.ListTool()
	out := execute(t, ls, fmt.Sprintf(`{"path":%q}`, dir))
	entries := out["entries"].([]any)
	assert.Len(t, entries, 2)
}

func TestShellToolCapturesExitCode(t *testing.T) {
	sh := builtin.ShellTool()
	out := execute(t, sh, `{"command":"echo out; echo err >&2"}`)
	assert.Equal(t, "out\n", out["stdout"])
	assert.Equal(t, "err\n", out["stderr"])
	assert.Equal(t, float64(0), out["exit_code"])

	out = execute(t, sh, `{"command":"exit 3"}`)
	assert.Equal(t, float64(3), out["exit_code"])
}

func TestGrepToolFindsMatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("func main elsewhere\n"), 0o644))

	grep := builtin.GrepTool()
	out := execute(t, grep, fmt.Sprintf(`{"pattern":"func main","path":%q,"glob":"*.go"}`, dir))
	matches := out["matches"].([]any)
	require.Len(t, matches, 1)
	m := matches[0].(map[string]any)
	assert.Equal(t, float64(2), m["line"])
}

func TestConcurrencyClasses(t *testing.T) {
	assert.Equal(t, tools.Serial, builtin.ShellTool().Concurrency)
	assert.Equal(t, tools.Serial, builtin.WriteTool().Concurrency)
	assert.Equal(t, tools.Parallel, builtin.ReadTool().Concurrency)
	assert.True(t, builtin.ReadTool().ReadOnly)
	assert.True(t, builtin.GrepTool().ReadOnly)
	assert.False(t, builtin.ShellTool().ReadOnly)
}

func TestPlanToolWaitsForConfirmation(t *testing.T) {
	events := inmem.New()
	t.Cleanup(func() { events.Close() })
	plans := interaction.NewPlanHandler(events)

	sub, err := events.Subscribe(context.Background(), eventstore.SubscribeOptions{SessionID: "s1", BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	// Confirm the plan as soon as it is presented.
	go func() {
		for env := range sub.Envelopes() {
			if env.Event.Type != eventstore.EventPlanPresented {
				continue
			}
			var data struct {
				RequestID string `json:"request_id"`
			}
			if json.Unmarshal(env.Event.Data, &data) == nil {
				plans.Respond(data.RequestID, interaction.PlanResponse{Confirmed: true})
				return
			}
		}
	}()

	def := builtin.PlanTool(plans, nil)
	out, err := def.Execute(context.Background(), []byte(`{"plan":"1. do the thing"}`),
		tools.ExecContext{SessionID: "s1", BranchID: "b1"})
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Equal(t, true, result["confirmed"])
}

func TestAskToolReturnsAnswers(t *testing.T) {
	events := inmem.New()
	t.Cleanup(func() { events.Close() })
	questions := interaction.NewQuestionHandler(events)

	sub, err := events.Subscribe(context.Background(), eventstore.SubscribeOptions{SessionID: "s1", BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	go func() {
		for env := range sub.Envelopes() {
			if env.Event.Type != eventstore.EventQuestionsAsked {
				continue
			}
			var data struct {
				RequestID string `json:"request_id"`
			}
			if json.Unmarshal(env.Event.Data, &data) == nil {
				questions.Respond(data.RequestID, interaction.QuestionsResponse{
					Answers: map[string]string{"which db?": "sqlite"},
				})
				return
			}
		}
	}()

	def := builtin.AskTool(questions)
	out, err := def.Execute(context.Background(), []byte(`{"questions":["which db?"]}`),
		tools.ExecContext{SessionID: "s1", BranchID: "b1"})
	require.NoError(t, err)
	result := out.(map[string]any)
	answers := result["answers"].(map[string]string)
	assert.Equal(t, "sqlite", answers["which db?"])
}

func TestInteractiveToolsAreReadOnlySerial(t *testing.T) {
	events := inmem.New()
	t.Cleanup(func() { events.Close() })
	plan := builtin.PlanTool(interaction.NewPlanHandler(events), nil)
	ask := builtin.AskTool(interaction.NewQuestionHandler(events))
	assert.True(t, plan.ReadOnly)
	assert.True(t, ask.ReadOnly)
	assert.Equal(t, tools.Serial, plan.Concurrency)
	assert.Equal(t, tools.Serial, ask.Concurrency)
}
