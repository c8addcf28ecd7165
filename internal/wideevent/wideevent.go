// Package wideevent folds the event stream into per-turn structured
// telemetry records. A record opens on
// StreamStarted, accumulates counters while the turn runs, and closes on
// TurnCompleted, ErrorOccurred, or an interrupted StreamEnded.
package wideevent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gentcli/gent/internal/eventstore"
)

// Record is one turn's aggregated telemetry: a duration and an extra map
// as in the runtime's ToolTelemetry, plus turn-level counters.
type Record struct {
	SessionID string `json:"session_id"`
	BranchID  string `json:"branch_id,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`

	Streams     int  `json:"streams"`
	Chunks      int  `json:"chunks"`
	ToolCalls   int  `json:"tool_calls"`
	ToolErrors  int  `json:"tool_errors"`
	Compactions int  `json:"compactions"`
	Subagents   int  `json:"subagents"`
	Transitions int  `json:"state_transitions"`
	Interrupted bool `json:"interrupted"`

	Err string `json:"error,omitempty"`

	// Extra carries aggregation keys that don't warrant a dedicated field.
	Extra map[string]any `json:"extra,omitempty"`
}

// Sink receives completed records.
type Sink func(Record)

// Aggregator consumes envelopes and emits one Record per turn per branch.
// Feed it from an eventstore subscription; it is safe for a single
// goroutine per Aggregator (the usual subscription-drain pattern) or for
// concurrent Observe calls.
type Aggregator struct {
	mu   sync.Mutex
	open map[string]*Record // branch key -> in-flight record
	sink Sink
}

// New builds an Aggregator delivering completed records to sink.
func New(sink Sink) *Aggregator {
	return &Aggregator{open: make(map[string]*Record), sink: sink}
}

// Observe folds one envelope into the per-branch in-flight record,
// emitting the record when the turn closes.
func (a *Aggregator) Observe(env eventstore.Envelope) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := env.Event.SessionID + "/" + env.Event.BranchID
	rec := a.open[key]

	switch env.Event.Type {
	case eventstore.EventStreamStarted:
		if rec == nil {
			rec = &Record{
				SessionID: env.Event.SessionID,
				BranchID:  env.Event.BranchID,
				StartedAt: env.CreatedAt,
			}
			a.open[key] = rec
		}
		rec.Streams++

	case eventstore.EventStreamChunk:
		if rec != nil {
			rec.Chunks++
		}

	case eventstore.EventStreamEnded:
		if rec == nil {
			return
		}
		var data eventstore.StreamEndedData
		if err := json.Unmarshal(env.Event.Data, &data); err == nil && data.Interrupted {
			rec.Interrupted = true
			a.emit(key, rec, env.CreatedAt)
		}

	case eventstore.EventToolCallStarted:
		if rec != nil {
			rec.ToolCalls++
		}

	case eventstore.EventToolCallCompleted:
		if rec == nil {
			return
		}
		var data eventstore.ToolCallCompletedData
		if err := json.Unmarshal(env.Event.Data, &data); err == nil && data.IsError {
			rec.ToolErrors++
		}

	case eventstore.EventCompactionCompleted:
		if rec != nil {
			rec.Compactions++
		}

	case eventstore.EventSubagentSpawned:
		if rec != nil {
			rec.Subagents++
		}

	case eventstore.EventMachineInspected:
		if rec != nil {
			rec.Transitions++
		}

	case eventstore.EventTurnCompleted:
		if rec == nil {
			return
		}
		var data eventstore.TurnCompletedData
		if err := json.Unmarshal(env.Event.Data, &data); err == nil {
			rec.DurationMs = data.DurationMs
		}
		a.emit(key, rec, env.CreatedAt)

	case eventstore.EventErrorOccurred:
		if rec == nil {
			return
		}
		var data eventstore.ErrorOccurredData
		if err := json.Unmarshal(env.Event.Data, &data); err == nil {
			rec.Err = data.Message
		}
		a.emit(key, rec, env.CreatedAt)
	}
}

// emit must be called with the mutex held.
func (a *Aggregator) emit(key string, rec *Record, at time.Time) {
	delete(a.open, key)
	rec.FinishedAt = at
	if rec.DurationMs == 0 && !rec.StartedAt.IsZero() {
		rec.DurationMs = at.Sub(rec.StartedAt).Milliseconds()
	}
	if a.sink != nil {
		a.sink(*rec)
	}
}

// Drain consumes a subscription until its channel closes, folding every
// envelope. Run it on its own goroutine.
func (a *Aggregator) Drain(sub eventstore.Subscription) {
	for env := range sub.Envelopes() {
		a.Observe(env)
	}
}
