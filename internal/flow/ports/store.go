package ports

import (
	"context"

	"github.com/soochol/convograph/internal/flow"
)

// StateStore persists conversation state with optimistic concurrency.
// Save fails with flow.ErrVersionConflict unless the stored version equals
// expectedVersion; on success the stored version becomes expectedVersion+1.
type StateStore interface {
	Load(ctx context.Context, threadID string) (*flow.ConversationState, error)
	Save(ctx context.Context, state *flow.ConversationState, expectedVersion int64) error
}

// MessageLog is the append-only message record of a thread.
type MessageLog interface {
	Append(ctx context.Context, threadID string, msgs ...flow.Message) error
	List(ctx context.Context, threadID string) ([]flow.Message, error)
}
