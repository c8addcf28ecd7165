package builtin

import (
	"context"
	"encoding/json"

	"github.com/gentcli/gent/internal/checkpoint"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/subagent"
	"github.com/gentcli/gent/internal/toolerrors"
	"github.com/gentcli/gent/internal/tools"
)

type taskInput struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// TaskTool returns the delegation tool: spawn a named subagent on the
// given task and return its final text. The calling
// agent's delegation whitelist is enforced by the runner's ExecContext
// agent name.
func TaskTool(runner *subagent.Runner) tools.Definition {
	return tools.Definition{
		Name:        "task",
		Description: "Delegate a task to a named subagent and return its final answer.",
		Concurrency: tools.Parallel,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"agent": {"type": "string", "description": "Registered subagent name"},
				"task": {"type": "string", "description": "The task prompt for the subagent"}
			},
			"required": ["agent", "task"]
		}`),
		Execute: func(ctx context.Context, input []byte, ec tools.ExecContext) (any, error) {
			var in taskInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			result, err := runner.Run(ctx, ec.SessionID, ec.AgentName, in.Agent, in.Task)
			if err != nil {
				return nil, toolerrors.NewWithCause(toolerrors.CodeExecutionError, "subagent failed", err)
			}
			return result, nil
		},
	}
}

// Deps carries the collaborators the interactive builtin tools need.
// Tools whose dependency is nil are skipped.
type Deps struct {
	Subagents   *subagent.Runner
	Plans       *interaction.PlanHandler
	Questions   *interaction.QuestionHandler
	Checkpoints *checkpoint.Service
}

// RegisterDefaults registers the full builtin tool set.
func RegisterDefaults(reg *tools.Registry, deps Deps) {
	reg.Register(ReadTool())
	reg.Register(WriteTool())
	reg.Register(ListTool())
	reg.Register(ShellTool())
	reg.Register(GrepTool())
	reg.Register(FetchTool())
	if deps.Subagents != nil {
		reg.Register(TaskTool(deps.Subagents))
	}
	if deps.Plans != nil {
		reg.Register(PlanTool(deps.Plans, deps.Checkpoints))
	}
	if deps.Questions != nil {
		reg.Register(AskTool(deps.Questions))
	}
}
