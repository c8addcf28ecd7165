package rpc_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/actor"
	"github.com/gentcli/gent/internal/checkpoint"
	"github.com/gentcli/gent/internal/eventstore"
	esinmem "github.com/gentcli/gent/internal/eventstore/inmem"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/rpc"
	sessinmem "github.com/gentcli/gent/internal/session/inmem"
	"github.com/gentcli/gent/internal/tools"
)

type scriptedClient struct {
	mu      sync.Mutex
	scripts [][]model.Chunk
	calls   int
}

func (c *scriptedClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, context.Canceled
}

func (c *scriptedClient) Stream(ctx context.Context, _ *model.Request) (model.Streamer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var script []model.Chunk
	if c.calls < len(c.scripts) {
		script = c.scripts[c.calls]
	}
	c.calls++
	return &scriptedStream{ctx: ctx, chunks: script}, nil
}

type scriptedStream struct {
	ctx    context.Context
	chunks []model.Chunk
	pos    int
}

func (s *scriptedStream) Recv() (model.Chunk, error) {
	if s.pos >= len(s.chunks) {
		<-s.ctx.Done()
		return model.Chunk{}, s.ctx.Err()
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error { return nil }

type client struct {
	t    *testing.T
	ws   *websocket.Conn
	mu   sync.Mutex
	next int

	frames  chan json.RawMessage
	skipped []json.RawMessage
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ctx := context.Background()
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	c := &client{t: t, ws: ws, frames: make(chan json.RawMessage, 64)}
	go func() {
		defer close(c.frames)
		for {
			var raw json.RawMessage
			if err := wsjson.Read(ctx, ws, &raw); err != nil {
				return
			}
			c.frames <- raw
		}
	}()
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return c
}

// call sends a request and waits for its response frame, buffering event
// pushes encountered along the way.
func (c *client) call(method string, params any, result any) {
	c.t.Helper()
	c.mu.Lock()
	c.next++
	id := strconv.Itoa(c.next)
	c.mu.Unlock()

	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	require.NoError(c.t, wsjson.Write(context.Background(), c.ws, rpc.Request{ID: id, Method: method, Params: raw}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				c.t.Fatal("connection closed waiting for response")
			}
			var resp rpc.Response
			require.NoError(c.t, json.Unmarshal(frame, &resp))
			if resp.ID != id {
				// An event push; keep it for waitEvent.
				c.mu.Lock()
				c.skipped = append(c.skipped, frame)
				c.mu.Unlock()
				continue
			}
			require.Nil(c.t, resp.Error, "method %s failed", method)
			if result != nil && resp.Result != nil {
				require.NoError(c.t, json.Unmarshal(resp.Result, result))
			}
			return
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s response", method)
		}
	}
}

// waitEvent drains frames until an event push of the given type arrives,
// checking frames buffered during call first.
func (c *client) waitEvent(typ eventstore.EventType) rpc.WireEnvelope {
	c.t.Helper()
	c.mu.Lock()
	buffered := c.skipped
	c.skipped = nil
	c.mu.Unlock()
	for _, frame := range buffered {
		var ef rpc.EventFrame
		if err := json.Unmarshal(frame, &ef); err == nil && ef.Method == "event" && ef.Params.Event.Type == typ {
			return ef.Params
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				c.t.Fatal("connection closed waiting for event")
			}
			var ef rpc.EventFrame
			if err := json.Unmarshal(frame, &ef); err != nil || ef.Method != "event" {
				continue
			}
			if ef.Params.Event.Type == typ {
				return ef.Params
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for event %s", typ)
		}
	}
}

func newTestServer(t *testing.T, scripts [][]model.Chunk) *httptest.Server {
	t.Helper()
	store := sessinmem.New()
	events := esinmem.New()
	t.Cleanup(func() { events.Close() })

	perms := interaction.NewPermissionHandler(events)
	plans := interaction.NewPlanHandler(events)
	questions := interaction.NewQuestionHandler(events)
	checkpoints := checkpoint.New(store, nil, 0)

	manager := actor.NewManager(actor.Deps{
		Store:       store,
		Events:      events,
		Checkpoints: checkpoints,
		Client:      &scriptedClient{scripts: scripts},
		Tools:       tools.NewRegistry(),
		Perms:       perms,
	})
	t.Cleanup(manager.Close)

	server := rpc.NewServer(store, events, checkpoints, manager, perms, plans, questions, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + ts.URL[len("http"):]
}

func TestSendMessageStreamsEventsToSubscriber(t *testing.T) {
	ts := newTestServer(t, [][]model.Chunk{{
		{Type: model.ChunkTypeText, Text: "hi"},
		{Type: model.ChunkTypeFinish, Reason: model.FinishReasonStop},
	}})
	c := dial(t, wsURL(ts))

	var created struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
	}
	c.call("createSession", map[string]any{"name": "test"}, &created)
	require.NotEmpty(t, created.SessionID)
	require.NotEmpty(t, created.BranchID)

	var subscribed struct {
		Subscribed bool `json:"subscribed"`
	}
	c.call("subscribeEvents", map[string]any{
		"sessionId": created.SessionID,
		"branchId":  created.BranchID,
	}, &subscribed)
	require.True(t, subscribed.Subscribed)

	c.call("sendMessage", map[string]any{
		"sessionId": created.SessionID,
		"branchId":  created.BranchID,
		"content":   "hello",
	}, nil)

	chunk := c.waitEvent(eventstore.EventStreamChunk)
	var chunkData eventstore.StreamChunkData
	require.NoError(t, json.Unmarshal(chunk.Event.Data, &chunkData))
	assert.Equal(t, "hi", chunkData.Text)
	c.waitEvent(eventstore.EventTurnCompleted)

	var msgs []json.RawMessage
	c.call("listMessages", map[string]any{"branchId": created.BranchID}, &msgs)
	assert.Len(t, msgs, 2)
}

func TestBranchForkCopiesHistory(t *testing.T) {
	ts := newTestServer(t, [][]model.Chunk{{
		{Type: model.ChunkTypeText, Text: "one"},
		{Type: model.ChunkTypeFinish, Reason: model.FinishReasonStop},
	}})
	c := dial(t, wsURL(ts))

	var created struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
	}
	c.call("createSession", nil, &created)
	c.call("subscribeEvents", map[string]any{
		"sessionId": created.SessionID,
		"branchId":  created.BranchID,
	}, nil)
	c.call("sendMessage", map[string]any{
		"sessionId": created.SessionID,
		"branchId":  created.BranchID,
		"content":   "hello",
	}, nil)
	c.waitEvent(eventstore.EventTurnCompleted)

	var fork struct {
		ID string `json:"ID"`
	}
	c.call("forkBranch", map[string]any{
		"sessionId":      created.SessionID,
		"parentBranchId": created.BranchID,
		"name":           "alt",
	}, &fork)
	require.NotEmpty(t, fork.ID)

	var msgs []json.RawMessage
	c.call("listMessages", map[string]any{"branchId": fork.ID}, &msgs)
	assert.Len(t, msgs, 2)

	var tree []json.RawMessage
	c.call("getBranchTree", map[string]any{"sessionId": created.SessionID}, &tree)
	assert.Len(t, tree, 1) // fork hangs off the root branch
}

func TestGetSessionStateReportsIdle(t *testing.T) {
	ts := newTestServer(t, nil)
	c := dial(t, wsURL(ts))

	var created struct {
		SessionID string `json:"sessionId"`
		BranchID  string `json:"branchId"`
	}
	c.call("createSession", nil, &created)

	var state struct {
		State string `json:"state"`
		Mode  string `json:"mode"`
	}
	c.call("getSessionState", map[string]any{
		"sessionId": created.SessionID,
		"branchId":  created.BranchID,
	}, &state)
	assert.Equal(t, "idle", state.State)
	assert.Equal(t, "build", state.Mode)
}

func TestUpdateSessionBypass(t *testing.T) {
	ts := newTestServer(t, nil)
	c := dial(t, wsURL(ts))

	var created struct {
		SessionID string `json:"sessionId"`
	}
	c.call("createSession", nil, &created)

	var result struct {
		Bypass bool `json:"bypass"`
	}
	c.call("updateSessionBypass", map[string]any{
		"sessionId": created.SessionID,
		"bypass":    true,
	}, &result)
	assert.True(t, result.Bypass)
}
