package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/soochol/convograph/internal/flow"
)

func testThread(id string, status flow.Status, updated time.Time) *flow.ConversationState {
	return &flow.ConversationState{
		ThreadID:    id,
		Template:    "support",
		CurrentNode: "start",
		Context:     map[string]any{},
		Status:      status,
		CreatedAt:   updated,
		UpdatedAt:   updated,
	}
}

func TestMemoryThreadRepository_CommitIsCompareAndSet(t *testing.T) {
	repo := NewMemoryThreadRepository()
	ctx := context.Background()
	now := time.Now()

	s := testThread("t-1", flow.StatusActive, now)
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, s); !errors.Is(err, flow.ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrAlreadyExists", err)
	}

	msg := flow.Message{Role: flow.RoleUser, Content: "hi", Timestamp: now}
	next := s.Clone()
	next.Messages = append(next.Messages, msg)
	next.CurrentNode = "support"
	if err := repo.Commit(ctx, next, 0, []flow.Message{msg}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A second writer holding version 0 loses.
	if err := repo.Commit(ctx, next, 0, []flow.Message{msg}); !errors.Is(err, flow.ErrVersionConflict) {
		t.Fatalf("stale commit: got %v, want ErrVersionConflict", err)
	}

	got, err := repo.Load(ctx, "t-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version: got %d, want 1", got.Version)
	}
	if got.CurrentNode != "support" {
		t.Errorf("current node: got %q, want support", got.CurrentNode)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("messages: got %d, want 1", len(got.Messages))
	}

	// Loaded state is a copy.
	got.Context["x"] = 1
	again, _ := repo.Load(ctx, "t-1")
	if _, ok := again.Context["x"]; ok {
		t.Fatal("load returned shared context")
	}

	if err := repo.Commit(ctx, testThread("missing", flow.StatusActive, now), 0, nil); !errors.Is(err, flow.ErrNotFound) {
		t.Fatalf("commit missing: got %v, want ErrNotFound", err)
	}
}

func TestMemoryThreadRepository_SaveAndMessageLog(t *testing.T) {
	repo := NewMemoryThreadRepository()
	ctx := context.Background()
	s := testThread("t-1", flow.StatusActive, time.Now())
	_ = repo.Create(ctx, s)

	if err := repo.Append(ctx, "t-1", flow.Message{Role: flow.RoleSystem, Content: "note"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.Status = flow.StatusCancelled
	if err := repo.Save(ctx, s, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	msgs, err := repo.List(ctx, "t-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "note" {
		t.Fatalf("messages: got %v", msgs)
	}
	got, _ := repo.Load(ctx, "t-1")
	if got.Status != flow.StatusCancelled || got.Version != 1 {
		t.Fatalf("state: got status %s version %d", got.Status, got.Version)
	}
	if err := repo.Append(ctx, "missing", flow.Message{}); !errors.Is(err, flow.ErrNotFound) {
		t.Fatalf("append missing: got %v, want ErrNotFound", err)
	}
}

func TestMemoryThreadRepository_Find(t *testing.T) {
	repo := NewMemoryThreadRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		status := flow.StatusActive
		if i%2 == 1 {
			status = flow.StatusInterrupted
		}
		_ = repo.Create(ctx, testThread(fmt.Sprintf("t-%d", i), status, base.Add(time.Duration(i)*time.Hour)))
	}

	all, total, err := repo.Find(ctx, flow.ThreadFilter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if total != 5 || all[0].ThreadID != "t-4" {
		t.Fatalf("find all: total %d, first %s", total, all[0].ThreadID)
	}

	page, total, _ := repo.Find(ctx, flow.ThreadFilter{Limit: 2, Offset: 2})
	if total != 5 || len(page) != 2 || page[0].ThreadID != "t-2" {
		t.Fatalf("page: total %d, got %d items", total, len(page))
	}

	interrupted, total, _ := repo.Find(ctx, flow.ThreadFilter{Statuses: []flow.Status{flow.StatusInterrupted}})
	if total != 2 || len(interrupted) != 2 {
		t.Fatalf("interrupted: got %d", total)
	}

	stale, _, _ := repo.Find(ctx, flow.ThreadFilter{
		Statuses:      []flow.Status{flow.StatusInterrupted},
		UpdatedBefore: base.Add(2 * time.Hour),
	})
	if len(stale) != 1 || stale[0].ThreadID != "t-1" {
		t.Fatalf("stale: got %v", stale)
	}

	beyond, total, _ := repo.Find(ctx, flow.ThreadFilter{Offset: 10})
	if total != 5 || len(beyond) != 0 {
		t.Fatalf("offset beyond end: total %d, got %d", total, len(beyond))
	}
}
