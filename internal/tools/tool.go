package tools

import (
	"context"

	"github.com/soochol/convograph/internal/flow"
)

// Tool is a side-effecting action executed by a tool node.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, call Call) (*Result, error)
}

// Guarded is implemented by tools that refuse to run until certain context
// keys are truthy, in addition to any the node itself declares.
type Guarded interface {
	Requires() []string
}

// Call is the input handed to a tool. Context and Messages are read-only
// snapshots of the conversation.
type Call struct {
	ThreadID string
	NodeID   string
	Args     map[string]any
	Context  map[string]any
	Messages []flow.Message
}

// Result is what a tool contributes to the conversation.
type Result struct {
	// Message is appended as an agent message when non-empty.
	Message string
	// ContextDelta is merged into the conversation context.
	ContextDelta map[string]any
	// Branch optionally selects the outgoing edge with this branch key.
	Branch string
}
