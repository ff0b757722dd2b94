package flow

import (
	"encoding/json"
	"slices"
	"time"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is one entry of a conversation. Messages are append-only.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	NodeID    string    `json:"node,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transition records one hop through the graph.
type Transition struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the live instance of a workflow run.
type ConversationState struct {
	ThreadID        string         `json:"thread_id"`
	Template        string         `json:"template,omitempty"`
	TemplateVersion int            `json:"template_version,omitempty"`
	CurrentNode     string         `json:"current_node,omitempty"`
	PendingNode     string         `json:"pending_node,omitempty"`
	History         []Transition   `json:"history"`
	Context         map[string]any `json:"context"`
	Messages        []Message      `json:"messages"`
	Status          Status         `json:"status"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// UsesWorkflow reports whether the thread is driven by a template.
func (s *ConversationState) UsesWorkflow() bool {
	return s.Template != ""
}

// LastMessage returns the most recent message, if any.
func (s *ConversationState) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastUserInput returns the content of the most recent user message.
func (s *ConversationState) LastUserInput() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Clone returns a deep copy. Context values are copied through a JSON round
// trip when they are not plain scalars, so nested maps are never shared.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.History = slices.Clone(s.History)
	cp.Messages = slices.Clone(s.Messages)
	cp.Context = cloneMap(s.Context)
	if cp.Context == nil {
		cp.Context = make(map[string]any)
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case nil, bool, string, float64, float32, int, int32, int64:
			out[k] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				out[k] = v
				continue
			}
			var decoded any
			if err := json.Unmarshal(b, &decoded); err != nil {
				out[k] = v
				continue
			}
			out[k] = decoded
		}
	}
	return out
}

// Truthy reports whether a context value counts as satisfied.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

// ThreadFilter selects threads for listing. Zero fields match everything.
type ThreadFilter struct {
	Statuses      []Status
	Template      string
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}

// Match reports whether s passes the filter, ignoring paging.
func (f ThreadFilter) Match(s *ConversationState) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if f.Template != "" && s.Template != f.Template {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}
