// Package eventstore implements the append-only, subscribable event log.
// It is the single source of truth for "what
// happened" in a session: every other component derives state from it or
// emits into it.
package eventstore

import "encoding/json"

// EventType enumerates the AgentEvent tagged union. New variants must only be appended; existing values are
// never renumbered or removed so persisted events stay decodable.
type EventType string

const (
	EventSessionStarted       EventType = "session_started"
	EventMessageReceived      EventType = "message_received"
	EventStreamStarted        EventType = "stream_started"
	EventStreamChunk          EventType = "stream_chunk"
	EventStreamEnded          EventType = "stream_ended"
	EventTurnCompleted        EventType = "turn_completed"
	EventToolCallStarted      EventType = "tool_call_started"
	EventToolCallCompleted    EventType = "tool_call_completed"
	EventPermissionRequested  EventType = "permission_requested"
	EventPermissionConfirmed  EventType = "permission_confirmed"
	EventPlanPresented        EventType = "plan_presented"
	EventPlanConfirmed        EventType = "plan_confirmed"
	EventPlanRejected         EventType = "plan_rejected"
	EventCompactionStarted    EventType = "compaction_started"
	EventCompactionCompleted  EventType = "compaction_completed"
	EventErrorOccurred        EventType = "error_occurred"
	EventQuestionsAsked       EventType = "questions_asked"
	EventQuestionsAnswered    EventType = "questions_answered"
	EventSessionNameUpdated   EventType = "session_name_updated"
	EventBranchCreated        EventType = "branch_created"
	EventBranchSwitched       EventType = "branch_switched"
	EventBranchSummarized     EventType = "branch_summarized"
	EventModelChanged         EventType = "model_changed"
	EventAgentSwitched        EventType = "agent_switched"
	EventSubagentSpawned      EventType = "subagent_spawned"
	EventSubagentCompleted    EventType = "subagent_completed"
	EventMachineInspected     EventType = "machine_inspected"
	EventMachineTaskSucceeded EventType = "machine_task_succeeded"
	EventMachineTaskFailed    EventType = "machine_task_failed"
)

// Event is the envelope payload: a type tag plus a canonical JSON body.
// Concrete payload structs are marshaled into Data by the emitting
// component; consumers unmarshal Data based on Type.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	BranchID  string          `json:"branch_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent marshals data and builds an Event with the given type/scope.
func NewEvent(typ EventType, sessionID, branchID string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, SessionID: sessionID, BranchID: branchID, Data: raw}, nil
}

// Payload data types for selected event variants referenced directly by
// the runtime and its tests. Other variants carry ad hoc payloads
// constructed by their emitting component.

type (
	MessageReceivedData struct {
		MessageID string `json:"message_id"`
		Role      string `json:"role"`
	}

	StreamChunkData struct {
		Text string `json:"text,omitempty"`
	}

	StreamEndedData struct {
		Interrupted bool            `json:"interrupted"`
		Usage       json.RawMessage `json:"usage,omitempty"`
	}

	TurnCompletedData struct {
		DurationMs int64 `json:"duration_ms"`
	}

	ToolCallStartedData struct {
		ToolCallID string          `json:"tool_call_id"`
		ToolName   string          `json:"tool_name"`
		Input      json.RawMessage `json:"input"`
	}

	ToolCallCompletedData struct {
		ToolCallID string          `json:"tool_call_id"`
		IsError    bool            `json:"is_error"`
		Summary    string          `json:"summary"`
		Output     json.RawMessage `json:"output"`
	}

	PermissionRequestedData struct {
		RequestID string          `json:"request_id"`
		ToolName  string          `json:"tool_name"`
		Input     json.RawMessage `json:"input"`
	}

	CompactionCompletedData struct {
		FirstKeptMessageID string `json:"first_kept_message_id"`
		MessageCount       int    `json:"message_count"`
	}

	ErrorOccurredData struct {
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	}

	SubagentSpawnedData struct {
		ParentSessionID string `json:"parent_session_id"`
		ChildSessionID  string `json:"child_session_id"`
		AgentName       string `json:"agent_name"`
		Prompt          string `json:"prompt"`
	}

	SubagentCompletedData struct {
		ChildSessionID string `json:"child_session_id"`
		Success        bool   `json:"success"`
	}
)
