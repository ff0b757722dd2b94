package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/soochol/convograph/internal/flow"
	memstore "github.com/soochol/convograph/internal/repository/memory"
)

// threadRecord keeps a thread's state apart from its message log, the same
// split the database uses.
type threadRecord struct {
	state    *flow.ConversationState
	messages []flow.Message
}

// MemoryThreadRepository is a thread-safe in-memory ThreadRepository.
type MemoryThreadRepository struct {
	store *memstore.Store[threadRecord]
}

func NewMemoryThreadRepository() *MemoryThreadRepository {
	return &MemoryThreadRepository{
		store: memstore.New(func(r threadRecord) string { return r.state.ThreadID }),
	}
}

func (r *MemoryThreadRepository) Create(ctx context.Context, s *flow.ConversationState) error {
	return r.store.Update(ctx, s.ThreadID, func(_ threadRecord, exists bool) (threadRecord, error) {
		if exists {
			return threadRecord{}, fmt.Errorf("thread %s: %w", s.ThreadID, flow.ErrAlreadyExists)
		}
		return newRecord(s, s.Messages), nil
	})
}

func (r *MemoryThreadRepository) Load(ctx context.Context, id string) (*flow.ConversationState, error) {
	rec, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", id, flow.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec.materialize(), nil
}

func (r *MemoryThreadRepository) Save(ctx context.Context, s *flow.ConversationState, expectedVersion int64) error {
	return r.Commit(ctx, s, expectedVersion, nil)
}

func (r *MemoryThreadRepository) Commit(ctx context.Context, s *flow.ConversationState, expectedVersion int64, msgs []flow.Message) error {
	return r.store.Update(ctx, s.ThreadID, func(cur threadRecord, exists bool) (threadRecord, error) {
		if !exists {
			return threadRecord{}, fmt.Errorf("thread %s: %w", s.ThreadID, flow.ErrNotFound)
		}
		if cur.state.Version != expectedVersion {
			return threadRecord{}, fmt.Errorf("thread %s at version %d (stored %d): %w",
				s.ThreadID, expectedVersion, cur.state.Version, flow.ErrVersionConflict)
		}
		next := newRecord(s, append(slices.Clone(cur.messages), msgs...))
		next.state.Version = expectedVersion + 1
		return next, nil
	})
}

// put replaces the cached record for s. s.Messages must be the full log.
func (r *MemoryThreadRepository) put(ctx context.Context, s *flow.ConversationState) {
	_ = r.store.Set(ctx, newRecord(s, s.Messages))
}

func (r *MemoryThreadRepository) evict(ctx context.Context, id string) {
	_ = r.store.Delete(ctx, id)
}

func (r *MemoryThreadRepository) Append(ctx context.Context, threadID string, msgs ...flow.Message) error {
	return r.store.Update(ctx, threadID, func(cur threadRecord, exists bool) (threadRecord, error) {
		if !exists {
			return threadRecord{}, fmt.Errorf("thread %s: %w", threadID, flow.ErrNotFound)
		}
		return threadRecord{state: cur.state, messages: append(slices.Clone(cur.messages), msgs...)}, nil
	})
}

func (r *MemoryThreadRepository) List(ctx context.Context, threadID string) ([]flow.Message, error) {
	rec, err := r.store.Get(ctx, threadID)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, flow.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return slices.Clone(rec.messages), nil
}

func (r *MemoryThreadRepository) Find(ctx context.Context, f flow.ThreadFilter) ([]*flow.ConversationState, int, error) {
	recs, err := r.store.Filter(ctx, func(rec threadRecord) bool { return f.Match(rec.state) })
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].state.UpdatedAt.After(recs[j].state.UpdatedAt)
	})
	total := len(recs)
	start := min(max(f.Offset, 0), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	out := make([]*flow.ConversationState, 0, end-start)
	for _, rec := range recs[start:end] {
		out = append(out, rec.state.Clone())
	}
	return out, total, nil
}

func (r *MemoryThreadRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("thread %s: %w", id, flow.ErrNotFound)
	}
	return nil
}

func newRecord(s *flow.ConversationState, msgs []flow.Message) threadRecord {
	st := s.Clone()
	st.Messages = nil
	return threadRecord{state: st, messages: slices.Clone(msgs)}
}

func (rec threadRecord) materialize() *flow.ConversationState {
	s := rec.state.Clone()
	s.Messages = slices.Clone(rec.messages)
	return s
}
