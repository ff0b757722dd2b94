package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soochol/convograph/internal/flow"
)

// PersistentThreadRepository caches threads in memory in front of
// PostgreSQL. The database is authoritative: every write goes to it first and
// the cache is only updated after the write succeeded. A version conflict
// evicts the cached copy so the next Load sees the committed state.
type PersistentThreadRepository struct {
	mem *MemoryThreadRepository
	db  ThreadDB
}

func NewPersistentThreadRepository(mem *MemoryThreadRepository, db ThreadDB) *PersistentThreadRepository {
	return &PersistentThreadRepository{mem: mem, db: db}
}

func (r *PersistentThreadRepository) Create(ctx context.Context, s *flow.ConversationState) error {
	if err := r.db.CreateThread(ctx, s); err != nil {
		return err
	}
	r.mem.put(ctx, s)
	return nil
}

func (r *PersistentThreadRepository) Load(ctx context.Context, id string) (*flow.ConversationState, error) {
	if s, err := r.mem.Load(ctx, id); err == nil {
		return s, nil
	}
	s, err := r.db.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mem.put(ctx, s)
	return s, nil
}

func (r *PersistentThreadRepository) Save(ctx context.Context, s *flow.ConversationState, expectedVersion int64) error {
	return r.Commit(ctx, s, expectedVersion, nil)
}

func (r *PersistentThreadRepository) Commit(ctx context.Context, s *flow.ConversationState, expectedVersion int64, msgs []flow.Message) error {
	if err := r.db.CommitThread(ctx, s, expectedVersion, msgs); err != nil {
		if errors.Is(err, flow.ErrVersionConflict) || errors.Is(err, flow.ErrNotFound) {
			r.mem.evict(ctx, s.ThreadID)
		}
		return err
	}
	// The full log is only known when the cached copy is current; otherwise
	// drop it and let the next Load read through.
	cached, err := r.mem.Load(ctx, s.ThreadID)
	if err != nil || cached.Version != expectedVersion {
		r.mem.evict(ctx, s.ThreadID)
		return nil
	}
	next := s.Clone()
	next.Version = expectedVersion + 1
	next.Messages = append(cached.Messages, msgs...)
	r.mem.put(ctx, next)
	return nil
}

func (r *PersistentThreadRepository) Append(ctx context.Context, threadID string, msgs ...flow.Message) error {
	if err := r.db.AppendMessages(ctx, threadID, msgs); err != nil {
		return err
	}
	if err := r.mem.Append(ctx, threadID, msgs...); err != nil && !errors.Is(err, flow.ErrNotFound) {
		slog.Warn("cache append failed", "thread", threadID, "err", err)
	}
	return nil
}

func (r *PersistentThreadRepository) List(ctx context.Context, threadID string) ([]flow.Message, error) {
	msgs, err := r.db.ListMessages(ctx, threadID)
	if err == nil {
		return msgs, nil
	}
	slog.Warn("db list messages failed, falling back to in-memory", "thread", threadID, "err", err)
	return r.mem.List(ctx, threadID)
}

func (r *PersistentThreadRepository) Find(ctx context.Context, f flow.ThreadFilter) ([]*flow.ConversationState, int, error) {
	// Prefer DB for durable listing.
	list, total, err := r.db.ListThreads(ctx, f)
	if err == nil {
		return list, total, nil
	}
	slog.Warn("db list threads failed, falling back to in-memory", "err", err)
	return r.mem.Find(ctx, f)
}

func (r *PersistentThreadRepository) Delete(ctx context.Context, id string) error {
	r.mem.evict(ctx, id)
	return r.db.DeleteThread(ctx, id)
}
