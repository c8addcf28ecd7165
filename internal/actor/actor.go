// Package actor implements the per-branch supervisor that drives the agent
// loop: build context, stream the provider, dispatch tool calls, and loop
// until the model stops asking for tools. One Actor owns one
// (sessionID, branchID) pair; steering commands land on its mailbox and are
// polled between chunks and between tool calls.
package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gentcli/gent/internal/agentreg"
	"github.com/gentcli/gent/internal/checkpoint"
	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/session"
	"github.com/gentcli/gent/internal/telemetry"
	"github.com/gentcli/gent/internal/toolrunner"
	"github.com/gentcli/gent/internal/tools"
)

// State is the supervisor's current position in the turn state machine.
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateStreaming   State = "streaming"
	StateDispatching State = "dispatching"
	StateResuming    State = "resuming"
)

// SteerKind tags a Steer command.
type SteerKind string

const (
	SteerCancel      SteerKind = "cancel"
	SteerInterrupt   SteerKind = "interrupt"
	SteerInterject   SteerKind = "interject"
	SteerSwitchModel SteerKind = "switch_model"
	SteerSwitchMode  SteerKind = "switch_mode"
)

// Steer is an out-of-band command delivered to a running actor. Text is set
// for Interject, Model for SwitchModel, Mode for SwitchMode.
type Steer struct {
	Kind  SteerKind
	Text  string
	Model string
	Mode  agentreg.Mode
}

// MaxTurnsPerMessage bounds how many provider streams one user message may
// chain through tool calls before the loop gives up. A backstop against a
// model that never stops calling tools, not a budget real turns approach.
const MaxTurnsPerMessage = 50

// Config wires an Actor's collaborators.
type Config struct {
	SessionID string
	BranchID  string

	// AgentName selects the driving agent role. Empty looks up no agent
	// definition: no agent model or system prompt is applied and no agent
	// tool allowlist narrows the registered tools.
	AgentName string
	// Mode is the initial build/plan mode.
	Mode agentreg.Mode

	Store       session.Store
	Events      eventstore.Store
	Checkpoints *checkpoint.Service
	Runner      *toolrunner.Runner
	Client      model.Client
	Tools       *tools.Registry
	Agents      *agentreg.Registry

	SystemPrompt string
	MaxTokens    int

	Logger  telemetry.Logger
	Metrics telemetry.Metrics

	// MaxStreamAttempts bounds provider retries per turn. <= 0 means 5.
	MaxStreamAttempts int
	// InitialBackoff seeds the exponential retry delay. <= 0 means 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay. <= 0 means 30s.
	MaxBackoff time.Duration

	// MailboxSize bounds the message and steering queues. <= 0 means 16.
	MailboxSize int
}

// Actor is the per-branch supervisor. Create with New, feed with
// SendMessage/Steer, stop with Close.
type Actor struct {
	cfg Config

	msgs   chan string
	steers chan Steer

	done     chan struct{}
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu          sync.Mutex
	state       State
	mode        agentreg.Mode
	modelOver   string
	interjects  []string
	turnCancel  context.CancelFunc
	interrupted bool
}

// New builds and starts an Actor. The actor's goroutine runs until Close.
func New(cfg Config) *Actor {
	if cfg.MaxStreamAttempts <= 0 {
		cfg.MaxStreamAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 16
	}
	if cfg.Mode == "" {
		cfg.Mode = agentreg.ModeBuild
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor{
		cfg:      cfg,
		msgs:     make(chan string, cfg.MailboxSize),
		steers:   make(chan Steer, cfg.MailboxSize),
		done:     make(chan struct{}),
		shutdown: cancel,
		state:    StateIdle,
		mode:     cfg.Mode,
	}
	a.wg.Add(1)
	go a.run(ctx)
	return a
}

// SendMessage enqueues a user message. It returns an error when the actor
// has been closed or the mailbox is full.
func (a *Actor) SendMessage(content string) error {
	select {
	case <-a.done:
		return errors.New("actor: closed")
	default:
	}
	select {
	case a.msgs <- content:
		return nil
	default:
		return errors.New("actor: mailbox full")
	}
}

// Steer delivers a steering command. Cancel and Interrupt are not queued:
// they mark the turn interrupted and cancel the in-flight turn's context
// immediately so a blocked provider read or tool execution unblocks
// without waiting for the next poll. Every other kind is queued on the
// steering mailbox.
func (a *Actor) Steer(cmd Steer) error {
	select {
	case <-a.done:
		return errors.New("actor: closed")
	default:
	}
	if cmd.Kind == SteerCancel || cmd.Kind == SteerInterrupt {
		a.mu.Lock()
		a.interrupted = true
		if a.turnCancel != nil {
			a.turnCancel()
		}
		a.mu.Unlock()
		return nil
	}
	select {
	case a.steers <- cmd:
		return nil
	default:
		return errors.New("actor: mailbox full")
	}
}

// State returns the actor's current state.
func (a *Actor) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Mode returns the actor's current build/plan mode.
func (a *Actor) Mode() agentreg.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Close stops the actor, cancelling any in-flight turn, and waits for the
// supervisor goroutine to exit.
func (a *Actor) Close() {
	a.mu.Lock()
	select {
	case <-a.done:
		a.mu.Unlock()
		return
	default:
	}
	close(a.done)
	if a.turnCancel != nil {
		a.turnCancel()
	}
	a.mu.Unlock()
	a.shutdown()
	a.wg.Wait()
}

func (a *Actor) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case content := <-a.msgs:
			a.runConversation(ctx, content)
		case cmd := <-a.steers:
			a.applySteer(cmd)
		}
	}
}

// runConversation drives one user message through as many chained turns as
// the model needs, returning to Idle when a turn finishes without tool
// calls, is interrupted, or fails fatally.
func (a *Actor) runConversation(parent context.Context, content string) {
	start := time.Now()

	ctx, cancel := context.WithCancel(parent)
	a.mu.Lock()
	a.turnCancel = cancel
	a.interrupted = false
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.turnCancel = nil
		a.mu.Unlock()
		a.setState(parent, StateIdle)
	}()

	pending := content
	outcome := turnAborted
	for turn := 0; turn < MaxTurnsPerMessage; turn++ {
		outcome = a.runTurn(ctx, pending)
		if outcome != turnContinue {
			break
		}
		pending = ""
	}

	// A cancelled or failed turn never reports completion.
	if outcome == turnDone {
		a.publish(parent, eventstore.EventTurnCompleted, eventstore.TurnCompletedData{
			DurationMs: time.Since(start).Milliseconds(),
		})
	}
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.RecordTimer("gent.turn.duration", time.Since(start), "session", a.cfg.SessionID)
	}
}

// turnOutcome reports how one Preparing -> Streaming -> Dispatching cycle
// ended: chained into another turn, finished cleanly, or aborted by
// interruption/failure.
type turnOutcome int

const (
	turnContinue turnOutcome = iota
	turnDone
	turnAborted
)

func (a *Actor) runTurn(ctx context.Context, userContent string) turnOutcome {
	a.setState(ctx, StatePreparing)

	req, err := a.prepare(ctx, userContent)
	if err != nil {
		a.fail(ctx, fmt.Errorf("prepare turn: %w", err), false)
		return turnAborted
	}

	a.setState(ctx, StateStreaming)
	a.publish(ctx, eventstore.EventStreamStarted, struct{}{})
	assistant, finishReason, interrupted, err := a.streamTurn(ctx, req)
	if err != nil {
		// Partial output is still committed so the next turn sees it.
		if assistant != nil && len(assistant.Parts) > 0 {
			_ = a.commitAssistant(ctx, assistant, true)
		}
		a.fail(ctx, err, false)
		return turnAborted
	}

	if err := a.commitAssistant(ctx, assistant, interrupted); err != nil {
		a.fail(ctx, err, false)
		return turnAborted
	}
	if interrupted {
		a.taskEvent(ctx, eventstore.EventMachineTaskFailed, "interrupted")
		return turnAborted
	}

	calls := assistant.ToolCalls()
	if finishReason != model.FinishReasonToolCalls || len(calls) == 0 {
		a.taskEvent(ctx, eventstore.EventMachineTaskSucceeded, "turn complete")
		return turnDone
	}

	a.setState(ctx, StateDispatching)
	toolMsg, err := a.dispatch(ctx, calls)
	if err != nil {
		a.fail(ctx, err, false)
		return turnAborted
	}
	if _, err := a.cfg.Store.CreateMessage(ctx, toolMsg); err != nil {
		a.fail(ctx, &session.StorageError{Op: "create tool message", Err: err}, false)
		return turnAborted
	}
	a.publish(ctx, eventstore.EventMessageReceived, eventstore.MessageReceivedData{
		MessageID: toolMsg.ID,
		Role:      string(model.RoleTool),
	})

	if a.isInterrupted() {
		return turnAborted
	}
	a.setState(ctx, StateResuming)
	return turnContinue
}

// prepare persists the user message (and any buffered interjections, which
// land first per the documented interject ordering), runs the compaction
// side-trip when due, and assembles the provider request.
func (a *Actor) prepare(ctx context.Context, userContent string) (*model.Request, error) {
	a.drainSteers()

	for _, text := range a.takeInterjects() {
		if err := a.persistUserMessage(ctx, text); err != nil {
			return nil, err
		}
	}
	if userContent != "" {
		if err := a.persistUserMessage(ctx, userContent); err != nil {
			return nil, err
		}
	}

	if a.cfg.Checkpoints != nil {
		if due, err := a.cfg.Checkpoints.ShouldCompact(ctx, a.cfg.BranchID); err == nil && due {
			a.compact(ctx)
		}
	}

	history, err := a.loadContext(ctx)
	if err != nil {
		return nil, err
	}
	history = checkpoint.PruneToolOutputs(history)

	return &model.Request{
		Model:        a.resolveModel(),
		Messages:     history,
		Tools:        a.toolSchemas(),
		SystemPrompt: a.systemPrompt(),
		MaxTokens:    a.cfg.MaxTokens,
	}, nil
}

// compact runs the synchronous CompactionStarted/Completed side-trip.
// Checkpoint failures are logged and skipped, never fatal.
func (a *Actor) compact(ctx context.Context) {
	a.publish(ctx, eventstore.EventCompactionStarted, struct{}{})
	cp, err := a.cfg.Checkpoints.CreateCompactionCheckpoint(ctx, a.cfg.BranchID)
	if err != nil {
		if a.cfg.Logger != nil {
			a.cfg.Logger.Warn(ctx, "compaction failed, skipping", "err", err)
		}
		return
	}
	data := eventstore.CompactionCompletedData{}
	if cp.Compaction != nil {
		data.FirstKeptMessageID = cp.Compaction.FirstKeptMessageID
		data.MessageCount = cp.Compaction.MessageCount
	}
	a.publish(ctx, eventstore.EventCompactionCompleted, data)
}

func (a *Actor) loadContext(ctx context.Context) ([]*model.Message, error) {
	if a.cfg.Checkpoints != nil {
		return a.cfg.Checkpoints.LoadContext(ctx, a.cfg.BranchID)
	}
	return a.cfg.Store.ListMessages(ctx, a.cfg.BranchID)
}

// streamTurn calls the provider and consumes chunks, polling the steering
// mailbox between every chunk. Retryable provider errors are retried with
// exponential backoff, but only while no chunk has been delivered yet:
// once partial output exists, a retry would duplicate StreamChunk events,
// so mid-stream failures commit the partial message instead.
func (a *Actor) streamTurn(ctx context.Context, req *model.Request) (*model.Message, string, bool, error) {
	builder := &model.Message{
		SessionID: a.cfg.SessionID,
		BranchID:  a.cfg.BranchID,
		Role:      model.RoleAssistant,
	}
	var finishReason string

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.InitialBackoff
	bo.MaxInterval = a.cfg.MaxBackoff
	bo.Reset()

	for attempt := 0; attempt < a.cfg.MaxStreamAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return builder, finishReason, true, nil
			}
		}

		stream, err := a.cfg.Client.Stream(ctx, req)
		if err != nil {
			if retryable(err) {
				continue
			}
			return builder, finishReason, false, err
		}

		received := false
		finished := false
		var streamErr error

	chunkLoop:
		for {
			if a.pollInterrupted() {
				_ = stream.Close()
				return builder, finishReason, true, nil
			}
			chunk, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					finished = true
				} else if errors.Is(err, context.Canceled) {
					_ = stream.Close()
					return builder, finishReason, true, nil
				} else {
					streamErr = err
				}
				break chunkLoop
			}
			received = true
			switch chunk.Type {
			case model.ChunkTypeText:
				builder.Parts = append(builder.Parts, model.TextPart{Text: chunk.Text})
				a.publish(ctx, eventstore.EventStreamChunk, eventstore.StreamChunkData{Text: chunk.Text})
			case model.ChunkTypeThinking:
				builder.Parts = append(builder.Parts, model.ReasoningPart{Text: chunk.Text})
			case model.ChunkTypeToolCall:
				builder.Parts = append(builder.Parts, model.ToolCallPart{
					ToolCallID: chunk.ToolCallID,
					ToolName:   chunk.ToolName,
					Input:      chunk.Input,
				})
			case model.ChunkTypeFinish:
				finishReason = chunk.Reason
				finished = true
				break chunkLoop
			}
		}
		_ = stream.Close()

		if finished {
			return builder, finishReason, false, nil
		}
		if streamErr != nil {
			if retryable(streamErr) && !received {
				continue
			}
			return builder, finishReason, false, streamErr
		}
		// Stream ended without a finish chunk or error; treat as complete.
		return builder, finishReason, false, nil
	}
	return builder, finishReason, false, fmt.Errorf("provider stream: retry attempts exhausted")
}

// commitAssistant persists the built assistant message and publishes the
// StreamEnded/MessageReceived pair. Interrupted commits still happen so
// history keeps whatever was produced.
func (a *Actor) commitAssistant(ctx context.Context, msg *model.Message, interrupted bool) error {
	msg.Interrupted = interrupted
	// Commit even when ctx was cancelled: the partial message is part of
	// the branch's durable history.
	if _, err := a.cfg.Store.CreateMessage(context.WithoutCancel(ctx), msg); err != nil {
		return &session.StorageError{Op: "create assistant message", Err: err}
	}
	a.publish(ctx, eventstore.EventStreamEnded, eventstore.StreamEndedData{Interrupted: interrupted})
	a.publish(ctx, eventstore.EventMessageReceived, eventstore.MessageReceivedData{
		MessageID: msg.ID,
		Role:      string(model.RoleAssistant),
	})
	return nil
}

// dispatch executes the assistant turn's tool calls: serial calls run
// sequentially in declaration order, parallel calls run concurrently under
// the runner's semaphore, and results are reassembled in declaration order
// into a single tool-role message.
func (a *Actor) dispatch(ctx context.Context, calls []model.ToolCallPart) (*model.Message, error) {
	results := make([]model.ToolResultPart, len(calls))
	var (
		parallelIdx []int
		serialIdx   []int
	)
	for i, call := range calls {
		def, err := a.cfg.Tools.Lookup(call.ToolName)
		if err == nil && def.Concurrency == tools.Serial {
			serialIdx = append(serialIdx, i)
			continue
		}
		// Unknown tools go through the parallel path; the runner turns
		// them into error-json results.
		parallelIdx = append(parallelIdx, i)
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	record := func(i int, part model.ToolResultPart, err error) {
		results[i] = part
		if err != nil {
			errMu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			errMu.Unlock()
		}
	}

	for _, i := range parallelIdx {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			part, err := a.runTool(ctx, calls[i])
			record(i, part, err)
		}(i)
	}
	for _, i := range serialIdx {
		if a.pollInterrupted() {
			record(i, cancelledResult(calls[i]), nil)
			continue
		}
		part, err := a.runTool(ctx, calls[i])
		record(i, part, err)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	parts := make([]model.Part, len(results))
	for i, r := range results {
		parts[i] = r
	}
	return &model.Message{
		SessionID: a.cfg.SessionID,
		BranchID:  a.cfg.BranchID,
		Role:      model.RoleTool,
		Parts:     parts,
	}, nil
}

func (a *Actor) runTool(ctx context.Context, call model.ToolCallPart) (model.ToolResultPart, error) {
	return a.cfg.Runner.Run(ctx, toolrunner.Request{
		SessionID:  a.cfg.SessionID,
		BranchID:   a.cfg.BranchID,
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
		Input:      call.Input,
		AgentName:  a.cfg.AgentName,
	})
}

func cancelledResult(call model.ToolCallPart) model.ToolResultPart {
	return model.ToolResultPart{
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
		Output:     model.ErrorResult("cancelled"),
	}
}

func (a *Actor) persistUserMessage(ctx context.Context, text string) error {
	msg := &model.Message{
		SessionID: a.cfg.SessionID,
		BranchID:  a.cfg.BranchID,
		Role:      model.RoleUser,
		Parts:     []model.Part{model.TextPart{Text: text}},
	}
	created, err := a.cfg.Store.CreateMessage(ctx, msg)
	if err != nil {
		return &session.StorageError{Op: "create user message", Err: err}
	}
	a.publish(ctx, eventstore.EventMessageReceived, eventstore.MessageReceivedData{
		MessageID: created.ID,
		Role:      string(model.RoleUser),
	})
	return nil
}

// resolveModel applies, in priority order: a SwitchModel override, the
// agent definition's mode-resolved model, then the provider default.
func (a *Actor) resolveModel() string {
	a.mu.Lock()
	over := a.modelOver
	mode := a.mode
	a.mu.Unlock()
	if over != "" {
		return over
	}
	if a.cfg.Agents != nil && a.cfg.AgentName != "" {
		if def, err := a.cfg.Agents.Lookup(a.cfg.AgentName); err == nil {
			return def.ResolveModel(mode)
		}
	}
	return ""
}

func (a *Actor) systemPrompt() string {
	prompt := a.cfg.SystemPrompt
	if a.cfg.Agents != nil && a.cfg.AgentName != "" {
		if def, err := a.cfg.Agents.Lookup(a.cfg.AgentName); err == nil && def.SystemPrompt != "" {
			if prompt != "" {
				prompt += "\n\n"
			}
			prompt += def.SystemPrompt
		}
	}
	return prompt
}

// toolSchemas returns the schemas advertised to the model: the agent's
// allowlist intersected with the registry, and read-only tools only when
// the session is in plan mode.
func (a *Actor) toolSchemas() []model.ToolSchema {
	if a.cfg.Tools == nil {
		return nil
	}
	var def agentreg.Definition
	if a.cfg.Agents != nil && a.cfg.AgentName != "" {
		def, _ = a.cfg.Agents.Lookup(a.cfg.AgentName)
	}
	planMode := a.Mode() == agentreg.ModePlan

	names := a.cfg.Tools.Names()
	sort.Strings(names)
	out := make([]model.ToolSchema, 0, len(names))
	for _, name := range names {
		td, err := a.cfg.Tools.Lookup(name)
		if err != nil {
			continue
		}
		if !def.AllowsTool(name) {
			continue
		}
		if planMode && !td.ReadOnly {
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

// drainSteers applies every queued steering command without blocking.
func (a *Actor) drainSteers() {
	for {
		select {
		case cmd := <-a.steers:
			a.applySteer(cmd)
		default:
			return
		}
	}
}

func (a *Actor) applySteer(cmd Steer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch cmd.Kind {
	case SteerCancel, SteerInterrupt:
		a.interrupted = true
		if a.turnCancel != nil {
			a.turnCancel()
		}
	case SteerInterject:
		if cmd.Text != "" {
			a.interjects = append(a.interjects, cmd.Text)
		}
	case SteerSwitchModel:
		a.modelOver = cmd.Model
	case SteerSwitchMode:
		if cmd.Mode == agentreg.ModeBuild || cmd.Mode == agentreg.ModePlan {
			a.mode = cmd.Mode
		}
	}
}

func (a *Actor) takeInterjects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.interjects
	a.interjects = nil
	return out
}

// pollInterrupted drains the steering mailbox and reports whether a
// Cancel/Interrupt has landed. Called between chunks and between serial
// tool calls.
func (a *Actor) pollInterrupted() bool {
	a.drainSteers()
	return a.isInterrupted()
}

func (a *Actor) isInterrupted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interrupted
}

// fail publishes ErrorOccurred and records task failure; the caller then
// returns the actor to Idle. The session stays usable: the next user
// message restarts from Idle.
func (a *Actor) fail(ctx context.Context, err error, retryable bool) {
	if a.cfg.Logger != nil {
		a.cfg.Logger.Error(ctx, "turn failed", "err", err)
	}
	a.publish(ctx, eventstore.EventErrorOccurred, eventstore.ErrorOccurredData{
		Message:   err.Error(),
		Retryable: retryable,
	})
	a.taskEvent(ctx, eventstore.EventMachineTaskFailed, err.Error())
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.IncCounter("gent.turn.errors", 1, "session", a.cfg.SessionID)
	}
}

func (a *Actor) setState(ctx context.Context, next State) {
	a.mu.Lock()
	prev := a.state
	a.state = next
	a.mu.Unlock()
	if prev == next {
		return
	}
	a.publish(ctx, eventstore.EventMachineInspected, struct {
		From string `json:"from"`
		To   string `json:"to"`
	}{From: string(prev), To: string(next)})
}

func (a *Actor) taskEvent(ctx context.Context, typ eventstore.EventType, detail string) {
	a.publish(ctx, typ, struct {
		Detail string `json:"detail,omitempty"`
	}{Detail: detail})
}

// publish emits an event, surviving turn cancellation: interruption events
// must still reach subscribers after the turn context is torn down.
func (a *Actor) publish(ctx context.Context, typ eventstore.EventType, data any) {
	ev, err := eventstore.NewEvent(typ, a.cfg.SessionID, a.cfg.BranchID, data)
	if err != nil {
		if a.cfg.Logger != nil {
			a.cfg.Logger.Error(ctx, "encode event", "type", string(typ), "err", err)
		}
		return
	}
	if _, err := a.cfg.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		if a.cfg.Logger != nil {
			a.cfg.Logger.Error(ctx, "publish event", "type", string(typ), "err", err)
		}
	}
}

// retryable reports whether err is a transient provider failure the loop
// should retry with backoff.
func retryable(err error) bool {
	if pe, ok := model.AsProviderError(err); ok {
		return pe.Retryable()
	}
	return false
}
