package wideevent_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/wideevent"
)

func env(t *testing.T, id uint64, typ eventstore.EventType, data any, at time.Time) eventstore.Envelope {
	t.Helper()
	ev, err := eventstore.NewEvent(typ, "s1", "b1", data)
	require.NoError(t, err)
	return eventstore.Envelope{ID: id, Event: ev, CreatedAt: at}
}

func TestAggregatorFoldsOneTurn(t *testing.T) {
	var records []wideevent.Record
	agg := wideevent.New(func(r wideevent.Record) { records = append(records, r) })

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg.Observe(env(t, 1, eventstore.EventStreamStarted, struct{}{}, base))
	agg.Observe(env(t, 2, eventstore.EventStreamChunk, eventstore.StreamChunkData{Text: "hi"}, base))
	agg.Observe(env(t, 3, eventstore.EventToolCallStarted, eventstore.ToolCallStartedData{ToolCallID: "t1"}, base))
	agg.Observe(env(t, 4, eventstore.EventToolCallCompleted, eventstore.ToolCallCompletedData{ToolCallID: "t1", IsError: true}, base))
	agg.Observe(env(t, 5, eventstore.EventStreamStarted, struct{}{}, base))
	agg.Observe(env(t, 6, eventstore.EventTurnCompleted, eventstore.TurnCompletedData{DurationMs: 1234}, base.Add(2*time.Second)))

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, 2, rec.Streams)
	assert.Equal(t, 1, rec.Chunks)
	assert.Equal(t, 1, rec.ToolCalls)
	assert.Equal(t, 1, rec.ToolErrors)
	assert.Equal(t, int64(1234), rec.DurationMs)
	assert.False(t, rec.Interrupted)
}

func TestAggregatorClosesOnInterruptedStream(t *testing.T) {
	var records []wideevent.Record
	agg := wideevent.New(func(r wideevent.Record) { records = append(records, r) })

	base := time.Now().UTC()
	agg.Observe(env(t, 1, eventstore.EventStreamStarted, struct{}{}, base))
	agg.Observe(env(t, 2, eventstore.EventStreamEnded, eventstore.StreamEndedData{Interrupted: true}, base.Add(time.Second)))

	require.Len(t, records, 1)
	assert.True(t, records[0].Interrupted)
	assert.Equal(t, int64(1000), records[0].DurationMs)
}

func TestAggregatorIgnoresEventsOutsideTurns(t *testing.T) {
	var records []wideevent.Record
	agg := wideevent.New(func(r wideevent.Record) { records = append(records, r) })

	agg.Observe(env(t, 1, eventstore.EventTurnCompleted, eventstore.TurnCompletedData{}, time.Now()))
	agg.Observe(env(t, 2, eventstore.EventStreamChunk, eventstore.StreamChunkData{}, time.Now()))
	assert.Empty(t, records)
}

func TestAggregatorClosesOnError(t *testing.T) {
	var records []wideevent.Record
	agg := wideevent.New(func(r wideevent.Record) { records = append(records, r) })

	base := time.Now().UTC()
	agg.Observe(env(t, 1, eventstore.EventStreamStarted, struct{}{}, base))
	agg.Observe(env(t, 2, eventstore.EventErrorOccurred, eventstore.ErrorOccurredData{Message: "boom"}, base))

	require.Len(t, records, 1)
	assert.Equal(t, "boom", records[0].Err)
}
