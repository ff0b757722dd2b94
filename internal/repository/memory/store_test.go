package memory

import (
	"context"
	"errors"
	"testing"
)

type item struct {
	key string
	n   int
}

func TestStore_Update(t *testing.T) {
	s := New(func(i item) string { return i.key })
	ctx := context.Background()

	err := s.Update(ctx, "a", func(cur item, ok bool) (item, error) {
		if ok {
			t.Fatal("unexpected existing value")
		}
		return item{key: "a", n: 1}, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	boom := errors.New("boom")
	err = s.Update(ctx, "a", func(cur item, ok bool) (item, error) {
		return item{key: "a", n: 99}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("update error: got %v, want boom", err)
	}
	got, _ := s.Get(ctx, "a")
	if got.n != 1 {
		t.Fatalf("failed update changed the value: %d", got.n)
	}

	if err := s.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing: got %v, want ErrNotFound", err)
	}
	if !s.Has(ctx, "a") {
		t.Fatal("expected key a")
	}
}
