// Package rpc exposes the runtime's steering surface: a JSON protocol
// over a long-lived duplex websocket channel. Each frame is a Request
// {id, method, params}; the server answers with a Response {id, result |
// error} and, for subscribeEvents, pushes event frames {method: "event",
// params: envelope} for the life of the connection.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gentcli/gent/internal/actor"
	"github.com/gentcli/gent/internal/agentreg"
	"github.com/gentcli/gent/internal/checkpoint"
	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/session"
	"github.com/gentcli/gent/internal/telemetry"
)

type (
	// Request is one inbound frame.
	Request struct {
		ID     string          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params,omitempty"`
	}

	// Response is one outbound reply frame.
	Response struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result,omitempty"`
		Error  *Error          `json:"error,omitempty"`
	}

	// Error is a method failure.
	Error struct {
		Message string `json:"message"`
	}

	// EventFrame is an unsolicited push carrying one envelope for an
	// active subscription.
	EventFrame struct {
		Method string       `json:"method"`
		Params WireEnvelope `json:"params"`
	}

	// WireEnvelope is the JSON shape of an eventstore.Envelope.
	WireEnvelope struct {
		ID        uint64           `json:"id"`
		Event     eventstore.Event `json:"event"`
		CreatedAt int64            `json:"created_at_unix_nano"`
	}
)

// Server dispatches steering methods against the core runtime.
type Server struct {
	store       session.Store
	events      eventstore.Store
	checkpoints *checkpoint.Service
	actors      *actor.Manager
	perms       *interaction.PermissionHandler
	plans       *interaction.PlanHandler
	questions   *interaction.QuestionHandler
	logger      telemetry.Logger
}

// NewServer wires a Server.
func NewServer(
	store session.Store,
	events eventstore.Store,
	checkpoints *checkpoint.Service,
	actors *actor.Manager,
	perms *interaction.PermissionHandler,
	plans *interaction.PlanHandler,
	questions *interaction.QuestionHandler,
	logger telemetry.Logger,
) *Server {
	return &Server{
		store:       store,
		events:      events,
		checkpoints: checkpoints,
		actors:      actors,
		perms:       perms,
		plans:       plans,
		questions:   questions,
		logger:      logger,
	}
}

// Handler returns the websocket upgrade endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.serveConn(r.Context(), conn)
	})
}

// conn wraps a websocket with a write lock so event pushes and responses
// never interleave mid-frame.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, v)
}

func (s *Server) serveConn(ctx context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := &conn{ws: ws}
	defer ws.Close(websocket.StatusNormalClosure, "")

	var subs []eventstore.Subscription
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()

	for {
		var req Request
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			return
		}
		resp := Response{ID: req.ID}
		result, sub, err := s.dispatch(ctx, c, req)
		if err != nil {
			resp.Error = &Error{Message: err.Error()}
		} else if result != nil {
			raw, merr := json.Marshal(result)
			if merr != nil {
				resp.Error = &Error{Message: merr.Error()}
			} else {
				resp.Result = raw
			}
		}
		if sub != nil {
			subs = append(subs, sub)
		}
		if err := c.write(ctx, resp); err != nil {
			return
		}
	}
}

// dispatch routes one request. A non-nil subscription is returned for
// subscribeEvents so the connection can close it on teardown.
func (s *Server) dispatch(ctx context.Context, c *conn, req Request) (any, eventstore.Subscription, error) {
	switch req.Method {
	case "createSession":
		return s.createSession(ctx, req.Params)
	case "listSessions":
		return s.listSessions(ctx, req.Params)
	case "getSession":
		return s.getSession(ctx, req.Params)
	case "listBranches":
		return s.listBranches(ctx, req.Params)
	case "createBranch":
		return s.createBranch(ctx, req.Params)
	case "forkBranch":
		return s.forkBranch(ctx, req.Params)
	case "switchBranch":
		return s.switchBranch(ctx, req.Params)
	case "getBranchTree":
		return s.getBranchTree(ctx, req.Params)
	case "sendMessage":
		return s.sendMessage(ctx, req.Params)
	case "listMessages":
		return s.listMessages(ctx, req.Params)
	case "getSessionState":
		return s.getSessionState(ctx, req.Params)
	case "steer":
		return s.steer(ctx, req.Params)
	case "respondPermission":
		return s.respondPermission(req.Params)
	case "respondPlan":
		return s.respondPlan(req.Params)
	case "respondQuestions":
		return s.respondQuestions(req.Params)
	case "subscribeEvents":
		return s.subscribeEvents(ctx, c, req.Params)
	case "updateSessionBypass":
		return s.updateSessionBypass(ctx, req.Params)
	case "compactBranch":
		return s.compactBranch(ctx, req.Params)
	default:
		return nil, nil, fmt.Errorf("unknown method: %s", req.Method)
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (s *Server) createSession(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		Name         string `json:"name"`
		FirstMessage string `json:"firstMessage"`
		CWD          string `json:"cwd"`
		Bypass       bool   `json:"bypass"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.store.CreateSession(ctx, session.Session{
		Name:   params.Name,
		CWD:    params.CWD,
		Bypass: params.Bypass,
	})
	if err != nil {
		return nil, nil, err
	}
	branch, err := s.store.CreateBranch(ctx, session.Branch{SessionID: sess.ID, Name: "main"})
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, eventstore.EventSessionStarted, sess.ID, branch.ID, struct {
		Name string `json:"name,omitempty"`
	}{Name: sess.Name})

	if params.FirstMessage != "" {
		a, err := s.actors.Get(ctx, sess.ID, branch.ID)
		if err != nil {
			return nil, nil, err
		}
		if err := a.SendMessage(params.FirstMessage); err != nil {
			return nil, nil, err
		}
	}
	return struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
		Name      string `json:"name"`
		Bypass    bool   `json:"bypass"`
	}{sess.ID, branch.ID, sess.Name, sess.Bypass}, nil, nil
}

func (s *Server) listSessions(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		CWD string `json:"cwd"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := s.store.ListSessions(ctx, params.CWD)
	if err != nil {
		return nil, nil, err
	}
	return sessions, nil, nil
}

func (s *Server) getSession(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.store.GetSession(ctx, params.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, nil, nil
}

func (s *Server) listBranches(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	branches, err := s.store.ListBranches(ctx, params.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return branches, nil, nil
}

func (s *Server) createBranch(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
		Model     string `json:"model"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	branch, err := s.store.CreateBranch(ctx, session.Branch{
		SessionID: params.SessionID,
		Name:      params.Name,
		Model:     params.Model,
	})
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, eventstore.EventBranchCreated, params.SessionID, branch.ID, struct {
		Name string `json:"name,omitempty"`
	}{Name: branch.Name})
	return branch, nil, nil
}

// forkBranch creates a branch rooted at parentMessageId and copies the
// parent's history up to and including that message.
func (s *Server) forkBranch(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID       string `json:"sessionId"`
		ParentBranchID  string `json:"parentBranchId"`
		ParentMessageID string `json:"parentMessageId"`
		Name            string `json:"name"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	branch, err := s.store.CreateBranch(ctx, session.Branch{
		SessionID:       params.SessionID,
		ParentBranchID:  params.ParentBranchID,
		ParentMessageID: params.ParentMessageID,
		Name:            params.Name,
	})
	if err != nil {
		return nil, nil, err
	}

	history, err := s.store.ListMessages(ctx, params.ParentBranchID)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range history {
		cp := *m
		cp.ID = ""
		cp.BranchID = branch.ID
		if _, err := s.store.CreateMessage(ctx, &cp); err != nil {
			return nil, nil, err
		}
		if params.ParentMessageID != "" && m.ID == params.ParentMessageID {
			break
		}
	}
	s.publish(ctx, eventstore.EventBranchCreated, params.SessionID, branch.ID, struct {
		ParentBranchID string `json:"parent_branch_id"`
	}{ParentBranchID: params.ParentBranchID})
	return branch, nil, nil
}

func (s *Server) switchBranch(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, eventstore.EventBranchSwitched, params.SessionID, params.BranchID, struct{}{})
	return struct {
		BranchID string `json:"branchId"`
	}{params.BranchID}, nil, nil
}

// branchNode is one node of the session's branch forest.
type branchNode struct {
	Branch   session.Branch `json:"branch"`
	Children []*branchNode  `json:"children,omitempty"`
}

func (s *Server) getBranchTree(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	branches, err := s.store.ListBranches(ctx, params.SessionID)
	if err != nil {
		return nil, nil, err
	}
	nodes := make(map[string]*branchNode, len(branches))
	for _, b := range branches {
		nodes[b.ID] = &branchNode{Branch: b}
	}
	var roots []*branchNode
	for _, b := range branches {
		node := nodes[b.ID]
		if parent, ok := nodes[b.ParentBranchID]; ok {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots, nil, nil
}

func (s *Server) sendMessage(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
		Content   string `json:"content"`
		Mode      string `json:"mode"`
		Model     string `json:"model"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.actors.Get(ctx, params.SessionID, params.BranchID)
	if err != nil {
		return nil, nil, err
	}
	if params.Mode != "" {
		_ = a.Steer(actor.Steer{Kind: actor.SteerSwitchMode, Mode: agentreg.Mode(params.Mode)})
	}
	if params.Model != "" {
		_ = a.Steer(actor.Steer{Kind: actor.SteerSwitchModel, Model: params.Model})
	}
	return nil, nil, a.SendMessage(params.Content)
}

func (s *Server) listMessages(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		BranchID string `json:"branchId"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessages(ctx, params.BranchID)
	if err != nil {
		return nil, nil, err
	}
	return msgs, nil, nil
}

func (s *Server) getSessionState(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.store.GetSession(ctx, params.SessionID)
	if err != nil {
		return nil, nil, err
	}
	state := actor.StateIdle
	mode := agentreg.ModeBuild
	if a, ok := s.actors.Peek(params.SessionID, params.BranchID); ok {
		state = a.State()
		mode = a.Mode()
	}
	return struct {
		Session session.Session `json:"session"`
		State   actor.State     `json:"state"`
		Mode    agentreg.Mode   `json:"mode"`
	}{sess, state, mode}, nil, nil
}

func (s *Server) steer(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		Model     string `json:"model"`
		Mode      string `json:"mode"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.actors.Get(ctx, params.SessionID, params.BranchID)
	if err != nil {
		return nil, nil, err
	}
	return nil, nil, a.Steer(actor.Steer{
		Kind:  actor.SteerKind(params.Kind),
		Text:  params.Message,
		Model: params.Model,
		Mode:  agentreg.Mode(params.Mode),
	})
}

func (s *Server) respondPermission(raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		RequestID string `json:"requestId"`
		Decision  string `json:"decision"`
		Persist   bool   `json:"persist"`
		Pattern   string `json:"pattern"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	// Unknown or already-answered request IDs are a silent no-op.
	s.perms.Respond(params.RequestID, interaction.PermissionResponse{
		Allow:   params.Decision == "allow",
		Persist: params.Persist,
		Pattern: params.Pattern,
	})
	return nil, nil, nil
}

func (s *Server) respondPlan(raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		RequestID string `json:"requestId"`
		Decision  string `json:"decision"`
		Reason    string `json:"reason"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	s.plans.Respond(params.RequestID, interaction.PlanResponse{
		Confirmed: params.Decision == "confirm",
	})
	return nil, nil, nil
}

func (s *Server) respondQuestions(raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		RequestID string            `json:"requestId"`
		Answers   map[string]string `json:"answers"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	s.questions.Respond(params.RequestID, interaction.QuestionsResponse{Answers: params.Answers})
	return nil, nil, nil
}

func (s *Server) subscribeEvents(ctx context.Context, c *conn, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
		After     uint64 `json:"after"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.events.Subscribe(ctx, eventstore.SubscribeOptions{
		SessionID: params.SessionID,
		BranchID:  params.BranchID,
		After:     params.After,
	})
	if err != nil {
		return nil, nil, err
	}
	go func() {
		for env := range sub.Envelopes() {
			frame := EventFrame{Method: "event", Params: WireEnvelope{
				ID:        env.ID,
				Event:     env.Event,
				CreatedAt: env.CreatedAt.UnixNano(),
			}}
			if err := c.write(ctx, frame); err != nil {
				sub.Close()
				return
			}
		}
		// A terminated subscription (slow consumer) ends with an error
		// frame so the client knows to resubscribe from its last cursor.
		if err := sub.Err(); err != nil {
			_ = c.write(ctx, Response{Error: &Error{Message: err.Error()}})
		}
	}()
	return struct {
		Subscribed bool `json:"subscribed"`
	}{true}, sub, nil
}

func (s *Server) updateSessionBypass(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
		Bypass    bool   `json:"bypass"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.store.GetSession(ctx, params.SessionID)
	if err != nil {
		return nil, nil, err
	}
	sess.Bypass = params.Bypass
	if _, err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	if err := s.actors.SetBypass(ctx, params.SessionID, params.Bypass); err != nil {
		return nil, nil, err
	}
	return struct {
		Bypass bool `json:"bypass"`
	}{params.Bypass}, nil, nil
}

func (s *Server) compactBranch(ctx context.Context, raw json.RawMessage) (any, eventstore.Subscription, error) {
	params, err := decode[struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
	}](raw)
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, eventstore.EventCompactionStarted, params.SessionID, params.BranchID, struct{}{})
	cp, err := s.checkpoints.CreateCompactionCheckpoint(ctx, params.BranchID)
	if err != nil {
		return nil, nil, err
	}
	data := eventstore.CompactionCompletedData{}
	if cp.Compaction != nil {
		data.FirstKeptMessageID = cp.Compaction.FirstKeptMessageID
		data.MessageCount = cp.Compaction.MessageCount
	}
	s.publish(ctx, eventstore.EventCompactionCompleted, params.SessionID, params.BranchID, data)
	return nil, nil, nil
}

func (s *Server) publish(ctx context.Context, typ eventstore.EventType, sessionID, branchID string, data any) {
	ev, err := eventstore.NewEvent(typ, sessionID, branchID, data)
	if err != nil {
		return
	}
	if _, err := s.events.Publish(ctx, ev); err != nil && s.logger != nil {
		s.logger.Error(ctx, "publish rpc event", "type", string(typ), "err", err)
	}
}
