package builtin

import (
	"context"
	"encoding/json"

	"github.com/gentcli/gent/internal/checkpoint"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/toolerrors"
	"github.com/gentcli/gent/internal/tools"
)

type planInput struct {
	Plan string `json:"plan"`
	// Path optionally names a plan file already written to disk; a
	// confirmed plan with a path becomes a plan checkpoint, superseding
	// the conversation history before it.
	Path string `json:"path,omitempty"`
}

// PlanTool returns the plan-presentation tool: the model submits its plan,
// the handler emits PlanPresented and blocks until the human confirms or
// rejects it. On confirmation with a plan file path, a plan checkpoint is
// recorded so subsequent turns load the plan file instead of the full
// history. Read-only so it stays available in plan mode, whose whole
// point is producing a confirmable plan.
func PlanTool(plans *interaction.PlanHandler, checkpoints *checkpoint.Service) tools.Definition {
	return tools.Definition{
		Name:        "plan",
		Description: "Present an implementation plan to the user and wait for confirmation. Returns {confirmed}. Optionally pass the path of a plan file to checkpoint on confirmation.",
		Concurrency: tools.Serial,
		ReadOnly:    true,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"plan": {"type": "string", "description": "The plan text, markdown allowed"},
				"path": {"type": "string", "description": "Optional path of the plan file on disk"}
			},
			"required": ["plan"]
		}`),
		Execute: func(ctx context.Context, input []byte, ec tools.ExecContext) (any, error) {
			var in planInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			resp, err := plans.Present(ctx, ec.SessionID, ec.BranchID, in.Plan)
			if err != nil {
				return nil, toolerrors.NewWithCause(toolerrors.CodeExecutionError, "plan presentation failed", err)
			}
			if resp.Confirmed && in.Path != "" && checkpoints != nil {
				if _, err := checkpoints.CreatePlanCheckpoint(ctx, ec.BranchID, in.Path); err != nil {
					return nil, toolerrors.NewWithCause(toolerrors.CodeExecutionError, "record plan checkpoint", err)
				}
			}
			return map[string]any{"confirmed": resp.Confirmed}, nil
		},
	}
}

type askInput struct {
	Questions []string `json:"questions"`
}

// AskTool returns the question tool: the model poses questions, the
// handler emits QuestionsAsked and blocks until the human answers.
func AskTool(questions *interaction.QuestionHandler) tools.Definition {
	return tools.Definition{
		Name:        "ask",
		Description: "Ask the user one or more questions and wait for their answers. Returns {answers} keyed by question.",
		Concurrency: tools.Serial,
		ReadOnly:    true,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"questions": {
					"type": "array",
					"items": {"type": "string"},
					"minItems": 1
				}
			},
			"required": ["questions"]
		}`),
		Execute: func(ctx context.Context, input []byte, ec tools.ExecContext) (any, error) {
			var in askInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, toolerrors.Errorf(toolerrors.CodeInvalidInput, "decode input: %v", err)
			}
			resp, err := questions.Ask(ctx, ec.SessionID, ec.BranchID, in.Questions)
			if err != nil {
				return nil, toolerrors.NewWithCause(toolerrors.CodeExecutionError, "questions failed", err)
			}
			return map[string]any{"answers": resp.Answers}, nil
		},
	}
}
