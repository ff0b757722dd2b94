package repository

import (
	"context"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/flow/ports"
)

// ThreadRepository stores conversation threads. Saves are compare-and-set on
// the state version; the message log is append-only and is returned as part
// of Load.
type ThreadRepository interface {
	ports.StateStore
	ports.MessageLog

	// Create stores a new thread at its current version with its messages.
	Create(ctx context.Context, s *flow.ConversationState) error
	// Commit saves s and appends msgs atomically, failing with
	// flow.ErrVersionConflict unless the stored version is expectedVersion.
	Commit(ctx context.Context, s *flow.ConversationState, expectedVersion int64, msgs []flow.Message) error
	// Find returns threads matching f, newest first, without messages,
	// plus the total number of matches.
	Find(ctx context.Context, f flow.ThreadFilter) ([]*flow.ConversationState, int, error)
	Delete(ctx context.Context, id string) error
}

// ThreadDB defines the DB-layer methods needed by the persistent thread
// repo. *db.DB satisfies this interface.
type ThreadDB interface {
	CreateThread(ctx context.Context, s *flow.ConversationState) error
	CommitThread(ctx context.Context, s *flow.ConversationState, expectedVersion int64, msgs []flow.Message) error
	GetThread(ctx context.Context, id string) (*flow.ConversationState, error)
	ListThreads(ctx context.Context, f flow.ThreadFilter) ([]*flow.ConversationState, int, error)
	DeleteThread(ctx context.Context, id string) error
	AppendMessages(ctx context.Context, threadID string, msgs []flow.Message) error
	ListMessages(ctx context.Context, threadID string) ([]flow.Message, error)
}
