// Package interaction implements the request/respond handlers that gate
// side effects on a human response: PermissionHandler, PlanHandler, and
// QuestionHandler. All three follow the same pattern:
// an in-memory map of outstanding requests keyed by request ID, plus an
// emit-then-await call that blocks the actor loop until the UI responds.
package interaction

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gentcli/gent/internal/eventstore"
)

// deferred is a single outstanding request awaiting a response. Respond
// is idempotent: only the first call delivers a value and closes done;
// later calls are no-ops, so a double-respond produces no event.
type deferred[T any] struct {
	once   sync.Once
	done   chan struct{}
	result T
}

func newDeferred[T any]() *deferred[T] {
	return &deferred[T]{done: make(chan struct{})}
}

func (d *deferred[T]) respond(v T) (delivered bool) {
	d.once.Do(func() {
		d.result = v
		close(d.done)
		delivered = true
	})
	return delivered
}

func (d *deferred[T]) await(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.result, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// entry is one outstanding request plus the session/branch scope its
// response event publishes under.
type entry[T any] struct {
	d         *deferred[T]
	sessionID string
	branchID  string
}

// registry is the shared map[requestID]entry plumbing behind all three
// handlers below.
type registry[T any] struct {
	mu      sync.Mutex
	pending map[string]entry[T]
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{pending: make(map[string]entry[T])}
}

func (r *registry[T]) open(id, sessionID, branchID string) *deferred[T] {
	d := newDeferred[T]()
	r.mu.Lock()
	r.pending[id] = entry[T]{d: d, sessionID: sessionID, branchID: branchID}
	r.mu.Unlock()
	return d
}

func (r *registry[T]) close(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// respond delivers v to the outstanding request id, if any. Returns the
// request's scope and false if id is unknown or was already responded to.
func (r *registry[T]) respond(id string, v T) (entry[T], bool) {
	r.mu.Lock()
	e, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return entry[T]{}, false
	}
	return e, e.d.respond(v)
}

// PermissionResponse is the answer a UI gives to a PermissionRequested
// event.
type PermissionResponse struct {
	Allow bool
	// Persist, when true and Allow is true, asks the caller to append a
	// standing allow rule to the policy.
	Persist bool
	// Pattern optionally narrows the persisted rule to inputs matching
	// it; empty persists a whole-tool allow.
	Pattern string
}

// PermissionHandler emits PermissionRequested and blocks until the UI
// calls RespondPermission.
type PermissionHandler struct {
	events eventstore.Store
	reg    *registry[PermissionResponse]
}

// NewPermissionHandler builds a handler that publishes requests through events.
func NewPermissionHandler(events eventstore.Store) *PermissionHandler {
	return &PermissionHandler{events: events, reg: newRegistry[PermissionResponse]()}
}

// Request emits PermissionRequested and blocks until RespondPermission is
// called for the returned request ID, or ctx is cancelled.
func (h *PermissionHandler) Request(ctx context.Context, sessionID, branchID, toolName string, input []byte) (PermissionResponse, error) {
	reqID := uuid.NewString()
	d := h.reg.open(reqID, sessionID, branchID)
	defer h.reg.close(reqID)

	ev, err := eventstore.NewEvent(eventstore.EventPermissionRequested, sessionID, branchID, eventstore.PermissionRequestedData{
		RequestID: reqID,
		ToolName:  toolName,
		Input:     input,
	})
	if err != nil {
		return PermissionResponse{}, err
	}
	if _, err := h.events.Publish(ctx, ev); err != nil {
		return PermissionResponse{}, err
	}

	return d.await(ctx)
}

// Respond delivers a decision for requestID and publishes
// PermissionConfirmed. Returns false — and publishes nothing — if the
// request is unknown or was already answered.
func (h *PermissionHandler) Respond(requestID string, resp PermissionResponse) bool {
	e, ok := h.reg.respond(requestID, resp)
	if !ok {
		return false
	}
	h.publishResponse(eventstore.EventPermissionConfirmed, e.sessionID, e.branchID, struct {
		RequestID string `json:"request_id"`
		Allow     bool   `json:"allow"`
		Persist   bool   `json:"persist,omitempty"`
	}{RequestID: requestID, Allow: resp.Allow, Persist: resp.Persist})
	return true
}

func (h *PermissionHandler) publishResponse(typ eventstore.EventType, sessionID, branchID string, data any) {
	ev, err := eventstore.NewEvent(typ, sessionID, branchID, data)
	if err != nil {
		return
	}
	_, _ = h.events.Publish(context.Background(), ev)
}

// PlanResponse is the answer a UI gives to a PlanPresented event.
type PlanResponse struct {
	Confirmed bool
}

// PlanHandler emits PlanPresented and blocks until the UI calls
// RespondPlan.
type PlanHandler struct {
	events eventstore.Store
	reg    *registry[PlanResponse]
}

// NewPlanHandler builds a handler that publishes requests through events.
func NewPlanHandler(events eventstore.Store) *PlanHandler {
	return &PlanHandler{events: events, reg: newRegistry[PlanResponse]()}
}

// Present emits PlanPresented with planText and blocks for a response.
func (h *PlanHandler) Present(ctx context.Context, sessionID, branchID, planText string) (PlanResponse, error) {
	reqID := uuid.NewString()
	d := h.reg.open(reqID, sessionID, branchID)
	defer h.reg.close(reqID)

	ev, err := eventstore.NewEvent(eventstore.EventPlanPresented, sessionID, branchID, struct {
		RequestID string `json:"request_id"`
		Plan      string `json:"plan"`
	}{RequestID: reqID, Plan: planText})
	if err != nil {
		return PlanResponse{}, err
	}
	if _, err := h.events.Publish(ctx, ev); err != nil {
		return PlanResponse{}, err
	}

	return d.await(ctx)
}

// Respond delivers a decision for requestID, publishing PlanConfirmed or
// PlanRejected on first delivery.
func (h *PlanHandler) Respond(requestID string, resp PlanResponse) bool {
	e, ok := h.reg.respond(requestID, resp)
	if !ok {
		return false
	}
	typ := eventstore.EventPlanRejected
	if resp.Confirmed {
		typ = eventstore.EventPlanConfirmed
	}
	ev, err := eventstore.NewEvent(typ, e.sessionID, e.branchID, struct {
		RequestID string `json:"request_id"`
	}{RequestID: requestID})
	if err == nil {
		_, _ = h.events.Publish(context.Background(), ev)
	}
	return true
}

// QuestionsResponse carries free-text answers keyed by question text.
type QuestionsResponse struct {
	Answers map[string]string
}

// QuestionHandler emits QuestionsAsked and blocks until the UI calls
// RespondQuestions.
type QuestionHandler struct {
	events eventstore.Store
	reg    *registry[QuestionsResponse]
}

// NewQuestionHandler builds a handler that publishes requests through events.
func NewQuestionHandler(events eventstore.Store) *QuestionHandler {
	return &QuestionHandler{events: events, reg: newRegistry[QuestionsResponse]()}
}

// Ask emits QuestionsAsked with the given questions and blocks for answers.
func (h *QuestionHandler) Ask(ctx context.Context, sessionID, branchID string, questions []string) (QuestionsResponse, error) {
	reqID := uuid.NewString()
	d := h.reg.open(reqID, sessionID, branchID)
	defer h.reg.close(reqID)

	ev, err := eventstore.NewEvent(eventstore.EventQuestionsAsked, sessionID, branchID, struct {
		RequestID string   `json:"request_id"`
		Questions []string `json:"questions"`
	}{RequestID: reqID, Questions: questions})
	if err != nil {
		return QuestionsResponse{}, err
	}
	if _, err := h.events.Publish(ctx, ev); err != nil {
		return QuestionsResponse{}, err
	}

	return d.await(ctx)
}

// Respond delivers answers for requestID, publishing QuestionsAnswered on
// first delivery.
func (h *QuestionHandler) Respond(requestID string, resp QuestionsResponse) bool {
	e, ok := h.reg.respond(requestID, resp)
	if !ok {
		return false
	}
	ev, err := eventstore.NewEvent(eventstore.EventQuestionsAnswered, e.sessionID, e.branchID, struct {
		RequestID string            `json:"request_id"`
		Answers   map[string]string `json:"answers"`
	}{RequestID: requestID, Answers: resp.Answers})
	if err == nil {
		_, _ = h.events.Publish(context.Background(), ev)
	}
	return true
}
