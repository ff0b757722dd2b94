package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeExpirer struct {
	cutoffs []time.Time
	n       int
	err     error
}

func (f *fakeExpirer) ExpireInterrupted(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n, f.err
}

func TestParseCronExpr(t *testing.T) {
	for _, expr := range []string{"@every 5m", "@hourly", "*/5 * * * *", "0 */5 * * * *"} {
		if _, err := parseCronExpr(expr); err != nil {
			t.Errorf("%q: unexpected error: %v", expr, err)
		}
	}
	for _, expr := range []string{"", "every five minutes", "61 * * * *"} {
		if _, err := parseCronExpr(expr); err == nil {
			t.Errorf("%q: expected error", expr)
		}
	}
}

func TestInterruptJanitor_SweepUsesTTL(t *testing.T) {
	exp := &fakeExpirer{n: 3}
	j, err := NewInterruptJanitor(exp, time.Hour, "@every 1m")
	if err != nil {
		t.Fatalf("NewInterruptJanitor: %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	if n := j.Sweep(context.Background()); n != 3 {
		t.Fatalf("expected 3 expired, got %d", n)
	}
	if len(exp.cutoffs) != 1 || !exp.cutoffs[0].Equal(now.Add(-time.Hour)) {
		t.Fatalf("unexpected cutoffs: %v", exp.cutoffs)
	}

	exp.err = errors.New("db down")
	if n := j.Sweep(context.Background()); n != 0 {
		t.Fatalf("expected 0 on error, got %d", n)
	}
}

func TestInterruptJanitor_InvalidSchedule(t *testing.T) {
	if _, err := NewInterruptJanitor(&fakeExpirer{}, time.Hour, "not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestInterruptJanitor_RunStopsWithContext(t *testing.T) {
	j, err := NewInterruptJanitor(&fakeExpirer{}, time.Hour, "@every 1h")
	if err != nil {
		t.Fatalf("NewInterruptJanitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
