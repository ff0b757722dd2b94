package flow

import "time"

type EventType string

const (
	EventStepCompleted EventType = "step.completed"
	EventTransition    EventType = "transition"
	EventInterrupted   EventType = "interrupted"
	EventResumed       EventType = "resumed"
	EventCompleted     EventType = "completed"
	EventCancelled     EventType = "cancelled"
	EventStepFailed    EventType = "step.failed"
)

// Event is published after a state change has been committed.
type Event struct {
	Type      EventType      `json:"type"`
	ThreadID  string         `json:"thread_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
