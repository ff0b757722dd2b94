package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soochol/convograph/internal/flow"
)

// threadSlot is the capacity-1 semaphore of one thread. refs counts holders
// and waiters so idle slots can be dropped.
type threadSlot struct {
	ch   chan struct{}
	refs int
}

// ThreadLocker allows at most one in-flight step per thread and bounds the
// number of concurrent steps system-wide. It uses channel-based counting
// semaphores at two levels: global and per-thread.
type ThreadLocker struct {
	global      chan struct{}
	mu          sync.Mutex
	threads     map[string]*threadSlot
	wait        time.Duration
	activeCount atomic.Int64
}

// NewThreadLocker creates a locker admitting globalMax concurrent steps.
// Acquire gives up after wait (no limit when zero).
func NewThreadLocker(globalMax int, wait time.Duration) *ThreadLocker {
	if globalMax <= 0 {
		globalMax = 32
	}
	return &ThreadLocker{
		global:  make(chan struct{}, globalMax),
		threads: make(map[string]*threadSlot),
		wait:    wait,
	}
}

// Acquire blocks until both the thread's slot and a global slot are
// available. It fails with flow.ErrThreadBusy when the wait elapses, or with
// the context's error when ctx is cancelled first.
func (l *ThreadLocker) Acquire(ctx context.Context, threadID string) error {
	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	// 1. Acquire the thread's slot.
	slot := l.ref(threadID)
	select {
	case slot.ch <- struct{}{}:
	case <-waitCtx.Done():
		l.unref(threadID)
		return l.waitErr(ctx, threadID)
	}

	// 2. Acquire a global slot.
	select {
	case l.global <- struct{}{}:
		l.activeCount.Add(1)
		return nil
	case <-waitCtx.Done():
		// Release the thread slot since we couldn't get a global one.
		<-slot.ch
		l.unref(threadID)
		return l.waitErr(ctx, threadID)
	}
}

// Release returns both the global and per-thread slots.
func (l *ThreadLocker) Release(threadID string) {
	l.activeCount.Add(-1)

	l.mu.Lock()
	if slot, ok := l.threads[threadID]; ok {
		select {
		case <-slot.ch:
		default:
		}
	}
	l.mu.Unlock()
	l.unref(threadID)

	select {
	case <-l.global:
	default:
	}
}

func (l *ThreadLocker) waitErr(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("thread %s: %w", threadID, flow.ErrThreadBusy)
}

// LockerStats reports current usage.
type LockerStats struct {
	ActiveSteps   int `json:"active_steps"`
	GlobalMax     int `json:"global_max"`
	LockedThreads int `json:"locked_threads"`
}

// Stats returns the current concurrency statistics.
func (l *ThreadLocker) Stats() LockerStats {
	l.mu.Lock()
	tracked := len(l.threads)
	l.mu.Unlock()
	return LockerStats{
		ActiveSteps:   int(l.activeCount.Load()),
		GlobalMax:     cap(l.global),
		LockedThreads: tracked,
	}
}

func (l *ThreadLocker) ref(threadID string) *threadSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.threads[threadID]
	if !ok {
		slot = &threadSlot{ch: make(chan struct{}, 1)}
		l.threads[threadID] = slot
	}
	slot.refs++
	return slot
}

func (l *ThreadLocker) unref(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.threads[threadID]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs <= 0 {
		delete(l.threads, threadID)
	}
}
