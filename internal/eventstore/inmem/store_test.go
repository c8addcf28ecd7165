package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/eventstore/inmem"
)

func mustEvent(t *testing.T, typ eventstore.EventType, branchID string, data any) eventstore.Event {
	t.Helper()
	ev, err := eventstore.NewEvent(typ, "sess-1", branchID, data)
	require.NoError(t, err)
	return ev
}

func TestPublishAssignsMonotonicIDsPerBranch(t *testing.T) {
	s := inmem.New()
	defer s.Close()
	ctx := context.Background()

	e1, err := s.Publish(ctx, mustEvent(t, eventstore.EventSessionStarted, "b1", nil))
	require.NoError(t, err)
	e2, err := s.Publish(ctx, mustEvent(t, eventstore.EventMessageReceived, "b1", nil))
	require.NoError(t, err)
	e3, err := s.Publish(ctx, mustEvent(t, eventstore.EventSessionStarted, "b2", nil))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e1.ID)
	assert.Equal(t, uint64(2), e2.ID)
	assert.Equal(t, uint64(1), e3.ID, "ids are per-branch, not global")
}

func TestSubscribeReplaysThenDeliversLiveSeamlessly(t *testing.T) {
	s := inmem.New()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Publish(ctx, mustEvent(t, eventstore.EventSessionStarted, "b1", nil))
	require.NoError(t, err)
	_, err = s.Publish(ctx, mustEvent(t, eventstore.EventMessageReceived, "b1", nil))
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, eventstore.SubscribeOptions{SessionID: "sess-1", BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	_, err = s.Publish(ctx, mustEvent(t, eventstore.EventTurnCompleted, "b1", nil))
	require.NoError(t, err)

	var got []uint64
	for i := 0; i < 3; i++ {
		select {
		case env := <-sub.Envelopes():
			got = append(got, env.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	}

	assert.Equal(t, []uint64{1, 2, 3}, got, "replay then live, no gap, no duplicate")
}

func TestSubscribeAfterSkipsReplayedPrefix(t *testing.T) {
	s := inmem.New()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Publish(ctx, mustEvent(t, eventstore.EventSessionStarted, "b1", nil))
	require.NoError(t, err)
	second, err := s.Publish(ctx, mustEvent(t, eventstore.EventMessageReceived, "b1", nil))
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, eventstore.SubscribeOptions{BranchID: "b1", After: second.ID})
	require.NoError(t, err)
	defer sub.Close()

	third, err := s.Publish(ctx, mustEvent(t, eventstore.EventTurnCompleted, "b1", nil))
	require.NoError(t, err)

	select {
	case env := <-sub.Envelopes():
		assert.Equal(t, third.ID, env.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestSlowSubscriberIsTerminatedNotGapped(t *testing.T) {
	s := inmem.New()
	defer s.Close()
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, eventstore.SubscribeOptions{BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	// Publish well past the live buffer without draining. The publisher
	// must never block; the overwhelmed subscription is cut off instead.
	const published = 1000
	for i := 0; i < published; i++ {
		_, err := s.Publish(ctx, mustEvent(t, eventstore.EventStreamChunk, "b1", eventstore.StreamChunkData{Text: "x"}))
		require.NoError(t, err)
	}

	var last uint64
	for env := range sub.Envelopes() {
		assert.Equal(t, last+1, env.ID, "delivered prefix is gap-free")
		last = env.ID
	}
	assert.Less(t, last, uint64(published), "subscription ends before the full stream")
	assert.ErrorIs(t, sub.Err(), eventstore.ErrSlowConsumer)

	// The store itself is unaffected; a fresh subscription resumes from
	// the last seen cursor.
	resumed, err := s.Subscribe(ctx, eventstore.SubscribeOptions{BranchID: "b1", After: last})
	require.NoError(t, err)
	defer resumed.Close()
	env := <-resumed.Envelopes()
	assert.Equal(t, last+1, env.ID)
}

func TestHistoryReturnsEnvelopesAfterCursor(t *testing.T) {
	s := inmem.New()
	defer s.Close()
	ctx := context.Background()

	first, err := s.Publish(ctx, mustEvent(t, eventstore.EventSessionStarted, "b1", nil))
	require.NoError(t, err)
	_, err = s.Publish(ctx, mustEvent(t, eventstore.EventMessageReceived, "b1", nil))
	require.NoError(t, err)

	hist, err := s.History(ctx, "b1", first.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, eventstore.EventMessageReceived, hist[0].Event.Type)
}

func TestPublishAfterCloseReturnsErrClosed(t *testing.T) {
	s := inmem.New()
	require.NoError(t, s.Close())

	_, err := s.Publish(context.Background(), mustEvent(t, eventstore.EventSessionStarted, "b1", nil))
	assert.ErrorIs(t, err, eventstore.ErrClosed)
}

func TestSessionWideSubscriptionSpansBranches(t *testing.T) {
	s := inmem.New()
	defer s.Close()
	ctx := context.Background()

	_, err := s.Publish(ctx, mustEvent(t, eventstore.EventStreamStarted, "b1", nil))
	require.NoError(t, err)
	_, err = s.Publish(ctx, mustEvent(t, eventstore.EventStreamStarted, "b2", nil))
	require.NoError(t, err)
	_, err = s.Publish(ctx, mustEvent(t, eventstore.EventSubagentSpawned, "", nil))
	require.NoError(t, err)
	other, err := eventstore.NewEvent(eventstore.EventStreamStarted, "sess-2", "b9", nil)
	require.NoError(t, err)
	_, err = s.Publish(ctx, other)
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, eventstore.SubscribeOptions{SessionID: "sess-1"})
	require.NoError(t, err)
	defer sub.Close()

	var branches []string
	for i := 0; i < 3; i++ {
		select {
		case env := <-sub.Envelopes():
			assert.Equal(t, "sess-1", env.Event.SessionID)
			branches = append(branches, env.Event.BranchID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for replay")
		}
	}
	assert.ElementsMatch(t, []string{"b1", "b2", ""}, branches)

	select {
	case env := <-sub.Envelopes():
		t.Fatalf("unexpected envelope for session %s", env.Event.SessionID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBranchSubscriptionIncludesSessionScopedEvents(t *testing.T) {
	s := inmem.New()
	defer s.Close()
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, eventstore.SubscribeOptions{SessionID: "sess-1", BranchID: "b1"})
	require.NoError(t, err)
	defer sub.Close()

	_, err = s.Publish(ctx, mustEvent(t, eventstore.EventStreamStarted, "b1", nil))
	require.NoError(t, err)
	_, err = s.Publish(ctx, mustEvent(t, eventstore.EventStreamStarted, "b2", nil))
	require.NoError(t, err)
	_, err = s.Publish(ctx, mustEvent(t, eventstore.EventSubagentSpawned, "", nil))
	require.NoError(t, err)

	first := <-sub.Envelopes()
	assert.Equal(t, "b1", first.Event.BranchID)
	second := <-sub.Envelopes()
	assert.Equal(t, eventstore.EventSubagentSpawned, second.Event.Type)
	assert.Empty(t, second.Event.BranchID, "session-scoped events reach branch subscriptions")
}
