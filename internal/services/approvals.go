package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/soochol/convograph/internal/engine"
	"github.com/soochol/convograph/internal/flow"
)

// Notifier delivers a text message to the people who approve interrupted
// conversations. *notify.Dispatcher satisfies this interface.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// ApprovalNotifier tells approvers when a conversation stops at a guarded
// tool node.
type ApprovalNotifier struct {
	notifier    Notifier
	timeout     time.Duration
	unsubscribe func()

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewApprovalNotifier subscribes to bus. Deliveries run in the background
// with the given timeout so publishing never waits on the network.
func NewApprovalNotifier(bus *engine.EventBus, notifier Notifier, timeout time.Duration) *ApprovalNotifier {
	n := &ApprovalNotifier{notifier: notifier, timeout: timeout}
	n.unsubscribe = bus.Subscribe(n.handle)
	return n
}

func (n *ApprovalNotifier) handle(ev flow.Event) {
	if ev.Type != flow.EventInterrupted {
		return
	}
	// A publisher may still hold a handler snapshot taken before Stop.
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	msg := approvalMessage(ev)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.notifier.Notify(ctx, msg); err != nil {
			slog.Warn("approval notification failed", "thread", ev.ThreadID, "node", ev.NodeID, "err", err)
		}
	}()
}

// Stop unsubscribes and waits for in-flight deliveries. Events arriving
// after Stop are dropped.
func (n *ApprovalNotifier) Stop() {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()
	n.unsubscribe()
	n.wg.Wait()
}

func approvalMessage(ev flow.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thread %s is waiting for approval at node %s", ev.ThreadID, ev.NodeID)
	if tool, _ := ev.Payload["tool"].(string); tool != "" {
		fmt.Fprintf(&b, " (tool %s)", tool)
	}
	if missing, ok := ev.Payload["missing"].([]string); ok && len(missing) > 0 {
		fmt.Fprintf(&b, ". Missing: %s", strings.Join(missing, ", "))
	}
	fmt.Fprintf(&b, ". Resume with POST /api/threads/%s/resume.", ev.ThreadID)
	return b.String()
}
