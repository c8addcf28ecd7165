package interaction_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/eventstore/inmem"
	"github.com/gentcli/gent/internal/interaction"
)

func TestPermissionHandlerRequestBlocksUntilRespond(t *testing.T) {
	store := inmem.New()
	defer store.Close()
	h := interaction.NewPermissionHandler(store)

	sub, err := store.Subscribe(context.Background(), eventstore.SubscribeOptions{BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	type result struct {
		resp interaction.PermissionResponse
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		resp, err := h.Request(context.Background(), "s1", "b1", "bash", []byte(`{}`))
		resultCh <- result{resp, err}
	}()

	var reqID string
	select {
	case env := <-sub.Envelopes():
		assert.Equal(t, eventstore.EventPermissionRequested, env.Event.Type)
		var data eventstore.PermissionRequestedData
		require.NoError(t, json.Unmarshal(env.Event.Data, &data))
		reqID = data.RequestID
		require.NotEmpty(t, reqID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PermissionRequested")
	}

	ok := h.Respond(reqID, interaction.PermissionResponse{Allow: true, Persist: true})
	assert.True(t, ok)

	select {
	case r := <-resultCh:
		require.NoError(t, r.err)
		assert.True(t, r.resp.Allow)
		assert.True(t, r.resp.Persist)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Request to return")
	}

	assert.False(t, h.Respond(reqID, interaction.PermissionResponse{Allow: false}), "double respond is a no-op")
}

func TestPermissionHandlerRequestCancelled(t *testing.T) {
	store := inmem.New()
	defer store.Close()
	h := interaction.NewPermissionHandler(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Request(ctx, "s1", "b1", "bash", []byte(`{}`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuestionHandlerAskAndRespond(t *testing.T) {
	store := inmem.New()
	defer store.Close()
	h := interaction.NewQuestionHandler(store)

	sub, err := store.Subscribe(context.Background(), eventstore.SubscribeOptions{BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	resultCh := make(chan interaction.QuestionsResponse, 1)
	go func() {
		resp, _ := h.Ask(context.Background(), "s1", "b1", []string{"favorite color?"})
		resultCh <- resp
	}()

	env := <-sub.Envelopes()
	assert.Equal(t, eventstore.EventQuestionsAsked, env.Event.Type)

	var data struct {
		RequestID string   `json:"request_id"`
		Questions []string `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(env.Event.Data, &data))

	h.Respond(data.RequestID, interaction.QuestionsResponse{Answers: map[string]string{"favorite color?": "blue"}})

	resp := <-resultCh
	assert.Equal(t, "blue", resp.Answers["favorite color?"])
}
