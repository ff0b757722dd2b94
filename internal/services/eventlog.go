package services

import (
	"sync"
	"time"

	"github.com/soochol/convograph/internal/engine"
	"github.com/soochol/convograph/internal/flow"
)

// EventRecord is a committed thread event stored in the per-thread buffer.
type EventRecord struct {
	Seq int `json:"seq"`
	flow.Event
}

// threadEntry holds the buffered events of one thread, whether it reached a
// terminal state, and subscriber notification channels.
type threadEntry struct {
	mu       sync.Mutex
	events   []EventRecord
	done     bool
	subs     []chan struct{} // closed-and-replaced on each new event (fan-out wakeup)
	watchers int
	lastSeen time.Time
}

// snapshot returns a copy of events from startSeq onward, registers a
// subscriber notification channel, and reports whether the thread is done.
func (e *threadEntry) snapshot(startSeq int) (events []EventRecord, notify <-chan struct{}, done bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if startSeq < 0 {
		startSeq = 0
	}
	if startSeq < len(e.events) {
		events = make([]EventRecord, len(e.events)-startSeq)
		copy(events, e.events[startSeq:])
	}

	ch := make(chan struct{})
	e.subs = append(e.subs, ch)
	return events, ch, e.done
}

// EventLog keeps recent events of every thread in memory so stream clients
// can reconnect with Last-Event-ID. It is fed by the EventBus.
type EventLog struct {
	mu          sync.Mutex
	threads     map[string]*threadEntry
	ttl         time.Duration
	unsubscribe func()
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewEventLog subscribes to bus and keeps a thread's buffer until it has
// been idle for ttl.
func NewEventLog(bus *engine.EventBus, ttl time.Duration) *EventLog {
	l := &EventLog{
		threads: make(map[string]*threadEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	l.unsubscribe = bus.Subscribe(l.Append)
	go l.gc()
	return l
}

// Stop detaches from the bus and terminates the GC goroutine.
func (l *EventLog) Stop() {
	l.stopOnce.Do(func() {
		l.unsubscribe()
		close(l.stop)
	})
}

func (l *EventLog) entry(threadID string) *threadEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.threads[threadID]
	if !ok {
		e = &threadEntry{lastSeen: time.Now()}
		l.threads[threadID] = e
	}
	return e
}

// Append adds an event to the thread's buffer and notifies all subscribers.
// Completed and cancelled events mark the thread done.
func (l *EventLog) Append(ev flow.Event) {
	entry := l.entry(ev.ThreadID)

	entry.mu.Lock()
	entry.events = append(entry.events, EventRecord{Seq: len(entry.events), Event: ev})
	switch ev.Type {
	case flow.EventCompleted, flow.EventCancelled:
		entry.done = true
	}
	entry.lastSeen = time.Now()
	subs := entry.subs
	entry.subs = nil
	entry.mu.Unlock()

	// Wake all subscribers by closing their channels.
	for _, ch := range subs {
		close(ch)
	}
}

// Subscribe returns buffered events of threadID from startSeq onward, a
// notification channel that is closed when new events arrive, and whether
// the thread has finished.
func (l *EventLog) Subscribe(threadID string, startSeq int) (events []EventRecord, notify <-chan struct{}, done bool) {
	return l.entry(threadID).snapshot(startSeq)
}

// Watch marks threadID as streamed until release is called. Watched
// buffers are never collected, so sequence numbers stay stable for
// connected clients.
func (l *EventLog) Watch(threadID string) (release func()) {
	entry := l.entry(threadID)
	entry.mu.Lock()
	entry.watchers++
	entry.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Lock()
			entry.watchers--
			entry.lastSeen = time.Now()
			entry.mu.Unlock()
		})
	}
}

// gc periodically drops unwatched buffers of threads idle for longer than
// the TTL.
func (l *EventLog) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.collectExpired(time.Now())
		}
	}
}

func (l *EventLog) collectExpired(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, entry := range l.threads {
		entry.mu.Lock()
		expired := entry.watchers == 0 && now.Sub(entry.lastSeen) > l.ttl
		var subs []chan struct{}
		if expired {
			subs = entry.subs
			entry.subs = nil
		}
		entry.mu.Unlock()
		if expired {
			delete(l.threads, id)
			for _, ch := range subs {
				close(ch)
			}
		}
	}
}
