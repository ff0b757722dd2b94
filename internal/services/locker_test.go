package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soochol/convograph/internal/flow"
)

func TestThreadLocker_BasicAcquireRelease(t *testing.T) {
	locker := NewThreadLocker(2, 0)
	ctx := context.Background()

	if err := locker.Acquire(ctx, "t-1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	stats := locker.Stats()
	if stats.ActiveSteps != 1 || stats.LockedThreads != 1 {
		t.Fatalf("expected 1 active step on 1 thread, got %+v", stats)
	}

	locker.Release("t-1")
	stats = locker.Stats()
	if stats.ActiveSteps != 0 || stats.LockedThreads != 0 {
		t.Fatalf("expected idle locker, got %+v", stats)
	}
}

func TestThreadLocker_SameThreadIsBusy(t *testing.T) {
	locker := NewThreadLocker(10, 30*time.Millisecond)
	ctx := context.Background()

	if err := locker.Acquire(ctx, "t-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err := locker.Acquire(ctx, "t-1")
	if !errors.Is(err, flow.ErrThreadBusy) {
		t.Fatalf("second acquire: got %v, want ErrThreadBusy", err)
	}

	// Different thread should still work.
	if err := locker.Acquire(ctx, "t-2"); err != nil {
		t.Fatalf("other thread: %v", err)
	}
	locker.Release("t-2")
	locker.Release("t-1")

	if err := locker.Acquire(ctx, "t-1"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	locker.Release("t-1")
}

func TestThreadLocker_GlobalLimit(t *testing.T) {
	locker := NewThreadLocker(2, 30*time.Millisecond)
	ctx := context.Background()

	_ = locker.Acquire(ctx, "t-1")
	_ = locker.Acquire(ctx, "t-2")

	err := locker.Acquire(ctx, "t-3")
	if !errors.Is(err, flow.ErrThreadBusy) {
		t.Fatalf("third acquire: got %v, want ErrThreadBusy", err)
	}
	if stats := locker.Stats(); stats.LockedThreads != 2 {
		t.Fatalf("failed acquire should not hold a thread slot, got %+v", stats)
	}
}

func TestThreadLocker_ContextCancelled(t *testing.T) {
	locker := NewThreadLocker(1, 0)
	_ = locker.Acquire(context.Background(), "t-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := locker.Acquire(ctx, "t-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestThreadLocker_SerializesThread(t *testing.T) {
	locker := NewThreadLocker(8, 0)
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locker.Acquire(ctx, "t-1"); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			locker.Release("t-1")
		}()
	}
	wg.Wait()
	if maxInFlight.Load() != 1 {
		t.Fatalf("expected at most 1 in-flight step per thread, saw %d", maxInFlight.Load())
	}
}
