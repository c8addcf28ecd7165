// Package subagent implements the bounded inner loop a task tool delegates
// to: a fresh child session/branch driven by a named agent with no user
// interaction, retried on transient failure and cut off by a wall-clock
// timeout.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gentcli/gent/internal/agentreg"
	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/session"
	"github.com/gentcli/gent/internal/telemetry"
	"github.com/gentcli/gent/internal/toolrunner"
	"github.com/gentcli/gent/internal/tools"
)

// Defaults for the runner's bounds. Callers override per Config.
const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 5 * time.Minute
	DefaultMaxTurns    = 20
)

// Config wires a Runner's collaborators.
type Config struct {
	Store  session.Store
	Events eventstore.Store
	Runner *toolrunner.Runner
	Client model.Client
	Tools  *tools.Registry
	Agents *agentreg.Registry

	SystemPrompt string
	MaxTokens    int

	// MaxAttempts bounds transient-failure retries. <= 0 uses the default.
	MaxAttempts int
	// Timeout is the wall clock for one delegation. <= 0 uses the default.
	Timeout time.Duration
	// MaxTurns bounds how many provider streams one delegation may chain.
	MaxTurns int
	// InitialBackoff seeds the retry delay. <= 0 means 500ms.
	InitialBackoff time.Duration

	Logger telemetry.Logger
}

// Result is what the parent loop receives as the task tool's output.
type Result struct {
	Text      string            `json:"output"`
	SessionID string            `json:"session_id"`
	AgentName string            `json:"agent_name"`
	Usage     *model.TokenUsage `json:"usage,omitempty"`
}

// Runner spawns bounded inner loops for named subagents.
type Runner struct {
	cfg Config
}

// New builds a Runner, applying defaults for unset bounds.
func New(cfg Config) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Runner{cfg: cfg}
}

// Run delegates prompt to the named subagent on behalf of the calling
// agent. callerAgent gates delegation: a target not in the caller's
// canDelegateToAgents list is refused before any session is created.
func (r *Runner) Run(ctx context.Context, parentSessionID, callerAgent, agentName, prompt string) (*Result, error) {
	def, err := r.cfg.Agents.Lookup(agentName)
	if err != nil {
		return nil, err
	}
	if callerAgent != "" {
		caller, err := r.cfg.Agents.Lookup(callerAgent)
		if err != nil {
			return nil, err
		}
		if !caller.CanDelegateTo(agentName) {
			return nil, fmt.Errorf("subagent: agent %q may not delegate to %q", callerAgent, agentName)
		}
	}

	child, err := r.cfg.Store.CreateSession(ctx, session.Session{
		Name: fmt.Sprintf("subagent:%s", agentName),
		// Subagents run without interactive approval; their tool surface is
		// already restricted by the agent's allowlist.
		Bypass: true,
	})
	if err != nil {
		return nil, &session.StorageError{Op: "create subagent session", Err: err}
	}
	branch, err := r.cfg.Store.CreateBranch(ctx, session.Branch{SessionID: child.ID, Name: "main"})
	if err != nil {
		return nil, &session.StorageError{Op: "create subagent branch", Err: err}
	}

	r.publish(ctx, eventstore.EventSubagentSpawned, parentSessionID, "", eventstore.SubagentSpawnedData{
		ParentSessionID: parentSessionID,
		ChildSessionID:  child.ID,
		AgentName:       agentName,
		Prompt:          prompt,
	})

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if _, err := r.cfg.Store.CreateMessage(ctx, &model.Message{
		SessionID: child.ID,
		BranchID:  branch.ID,
		Role:      model.RoleUser,
		Parts:     []model.Part{model.TextPart{Text: prompt}},
	}); err != nil {
		return nil, &session.StorageError{Op: "create subagent prompt", Err: err}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialBackoff
	bo.Reset()

	var (
		result  *Result
		lastErr error
	)
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
			}
			if err := ctx.Err(); err != nil {
				lastErr = err
				break
			}
		}
		result, lastErr = r.runInner(ctx, def, child.ID, branch.ID)
		if lastErr == nil || !transient(lastErr) {
			break
		}
		if r.cfg.Logger != nil {
			r.cfg.Logger.Warn(ctx, "subagent attempt failed, retrying", "agent", agentName, "attempt", attempt, "err", lastErr)
		}
	}

	r.publish(ctx, eventstore.EventSubagentCompleted, parentSessionID, "", eventstore.SubagentCompletedData{
		ChildSessionID: child.ID,
		Success:        lastErr == nil,
	})

	if lastErr != nil {
		return nil, lastErr
	}
	result.SessionID = child.ID
	result.AgentName = agentName
	return result, nil
}

// runInner runs one delegation attempt: chain Streaming -> Dispatching
// cycles until the model finishes without tool calls or the turn budget
// runs out. The prompt is already in the branch history, so a retrying
// attempt picks up where the failed one left off.
func (r *Runner) runInner(ctx context.Context, def agentreg.Definition, sessionID, branchID string) (*Result, error) {
	var usage *model.TokenUsage
	for turn := 0; turn < r.cfg.MaxTurns; turn++ {
		history, err := r.cfg.Store.ListMessages(ctx, branchID)
		if err != nil {
			return nil, &session.StorageError{Op: "list subagent messages", Err: err}
		}

		assistant, reason, turnUsage, err := r.streamOnce(ctx, def, history)
		if err != nil {
			return nil, err
		}
		if turnUsage != nil {
			usage = turnUsage
		}
		assistant.SessionID, assistant.BranchID = sessionID, branchID
		if _, err := r.cfg.Store.CreateMessage(ctx, assistant); err != nil {
			return nil, &session.StorageError{Op: "create subagent assistant message", Err: err}
		}

		calls := assistant.ToolCalls()
		if reason != model.FinishReasonToolCalls || len(calls) == 0 {
			return &Result{Text: assistant.Text(), Usage: usage}, nil
		}

		parts := make([]model.Part, len(calls))
		for i, call := range calls {
			part, err := r.cfg.Runner.Run(ctx, toolrunner.Request{
				SessionID:  sessionID,
				BranchID:   branchID,
				ToolCallID: call.ToolCallID,
				ToolName:   call.ToolName,
				Input:      call.Input,
				AgentName:  def.Name,
			})
			if err != nil {
				return nil, err
			}
			parts[i] = part
		}
		if _, err := r.cfg.Store.CreateMessage(ctx, &model.Message{
			SessionID: sessionID,
			BranchID:  branchID,
			Role:      model.RoleTool,
			Parts:     parts,
		}); err != nil {
			return nil, &session.StorageError{Op: "create subagent tool message", Err: err}
		}
	}
	return nil, fmt.Errorf("subagent: turn budget exhausted after %d turns", r.cfg.MaxTurns)
}

func (r *Runner) streamOnce(ctx context.Context, def agentreg.Definition, history []*model.Message) (*model.Message, string, *model.TokenUsage, error) {
	req := &model.Request{
		Model:        def.Model,
		Messages:     history,
		Tools:        r.toolSchemas(def),
		SystemPrompt: r.systemPrompt(def),
		MaxTokens:    r.cfg.MaxTokens,
	}
	stream, err := r.cfg.Client.Stream(ctx, req)
	if err != nil {
		return nil, "", nil, err
	}
	defer stream.Close()

	builder := &model.Message{Role: model.RoleAssistant}
	var (
		reason string
		usage  *model.TokenUsage
	)
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return builder, reason, usage, nil
			}
			return nil, "", nil, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			builder.Parts = append(builder.Parts, model.TextPart{Text: chunk.Text})
		case model.ChunkTypeThinking:
			builder.Parts = append(builder.Parts, model.ReasoningPart{Text: chunk.Text})
		case model.ChunkTypeToolCall:
			builder.Parts = append(builder.Parts, model.ToolCallPart{
				ToolCallID: chunk.ToolCallID,
				ToolName:   chunk.ToolName,
				Input:      chunk.Input,
			})
		case model.ChunkTypeFinish:
			reason = chunk.Reason
			usage = chunk.Usage
			return builder, reason, usage, nil
		}
	}
}

func (r *Runner) systemPrompt(def agentreg.Definition) string {
	prompt := r.cfg.SystemPrompt
	if def.SystemPrompt != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += def.SystemPrompt
	}
	return prompt
}

func (r *Runner) toolSchemas(def agentreg.Definition) []model.ToolSchema {
	if r.cfg.Tools == nil {
		return nil
	}
	names := r.cfg.Tools.Names()
	sort.Strings(names)
	out := make([]model.ToolSchema, 0, len(names))
	for _, name := range names {
		if !def.AllowsTool(name) {
			continue
		}
		td, err := r.cfg.Tools.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, model.ToolSchema{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: td.Schema,
		})
	}
	return out
}

func (r *Runner) publish(ctx context.Context, typ eventstore.EventType, sessionID, branchID string, data any) {
	ev, err := eventstore.NewEvent(typ, sessionID, branchID, data)
	if err != nil {
		return
	}
	if _, err := r.cfg.Events.Publish(context.WithoutCancel(ctx), ev); err != nil && r.cfg.Logger != nil {
		r.cfg.Logger.Error(ctx, "publish subagent event", "type", string(typ), "err", err)
	}
}

// transient reports whether err is worth another attempt.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if pe, ok := model.AsProviderError(err); ok {
		return pe.Retryable()
	}
	var se *session.StorageError
	return !errors.As(err, &se)
}
