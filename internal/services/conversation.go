// Package services orchestrates conversations: it loads thread state, runs
// the graph engine under a per-thread lock, commits the result and publishes
// the events the engine produced.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/soochol/convograph/internal/engine"
	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/flow/ports"
	"github.com/soochol/convograph/internal/graph"
	"github.com/soochol/convograph/internal/repository"
)

const defaultMaxSteps = 8

// Outcome is the result of an operation that moved a conversation.
type Outcome struct {
	State *flow.ConversationState `json:"state"`
	// Messages produced by the operation, in order.
	Messages []flow.Message `json:"messages"`
}

// ConversationService drives conversations through their workflow graphs.
type ConversationService struct {
	engine     *engine.Engine
	templates  *TemplateService
	threads    repository.ThreadRepository
	completion ports.CompletionProvider
	bus        *engine.EventBus
	locker     *ThreadLocker
	maxSteps   int
	now        func() time.Time
	telemetry  *telemetry
}

type ConversationOption func(*ConversationService)

// WithMaxSteps bounds how many engine steps one message may trigger.
func WithMaxSteps(n int) ConversationOption {
	return func(s *ConversationService) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

func WithServiceClock(now func() time.Time) ConversationOption {
	return func(s *ConversationService) { s.now = now }
}

func NewConversationService(
	eng *engine.Engine,
	templates *TemplateService,
	threads repository.ThreadRepository,
	completion ports.CompletionProvider,
	bus *engine.EventBus,
	locker *ThreadLocker,
	opts ...ConversationOption,
) *ConversationService {
	s := &ConversationService{
		engine:     eng,
		templates:  templates,
		threads:    threads,
		completion: completion,
		bus:        bus,
		locker:     locker,
		maxSteps:   defaultMaxSteps,
		now:        time.Now,
		telemetry:  newTelemetry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a thread running templateName, positioned at its start node.
func (s *ConversationService) Start(ctx context.Context, templateName string, initial map[string]any) (_ *flow.ConversationState, err error) {
	ctx, end := s.telemetry.start(ctx, "start", "")
	defer func() { end(err) }()

	g, err := s.templates.Graph(ctx, templateName, 0)
	if err != nil {
		return nil, err
	}
	state := s.engine.Initialize(g, "")
	maps.Copy(state.Context, initial)
	if err := s.threads.Create(ctx, state); err != nil {
		return nil, err
	}
	slog.Info("conversation started", "thread", state.ThreadID, "template", g.Name(), "version", g.Version())
	return state, nil
}

// StartChat creates a thread with no workflow. Its messages go straight to
// the default model.
func (s *ConversationService) StartChat(ctx context.Context) (_ *flow.ConversationState, err error) {
	ctx, end := s.telemetry.start(ctx, "start_chat", "")
	defer func() { end(err) }()

	now := s.now()
	state := &flow.ConversationState{
		ThreadID:  uuid.NewString(),
		History:   []flow.Transition{},
		Context:   map[string]any{},
		Messages:  []flow.Message{},
		Status:    flow.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.threads.Create(ctx, state); err != nil {
		return nil, err
	}
	slog.Info("chat started", "thread", state.ThreadID)
	return state, nil
}

// Send delivers a user message and keeps stepping until the conversation
// waits for the user again, is interrupted or completes, or the step budget
// is spent. Everything is committed at once.
func (s *ConversationService) Send(ctx context.Context, threadID, input string) (*Outcome, error) {
	return s.move(ctx, "send", threadID, func(ctx context.Context, state *flow.ConversationState) (*engine.StepResult, error) {
		if !state.UsesWorkflow() {
			return s.chat(ctx, state, input)
		}
		return s.drive(ctx, state, func(g *graph.Graph) (*engine.StepResult, error) {
			return s.engine.Step(ctx, state, g, input)
		})
	})
}

// Step performs exactly one engine step.
func (s *ConversationService) Step(ctx context.Context, threadID, input string) (*Outcome, error) {
	return s.move(ctx, "step", threadID, func(ctx context.Context, state *flow.ConversationState) (*engine.StepResult, error) {
		if !state.UsesWorkflow() {
			return s.chat(ctx, state, input)
		}
		g, err := s.graphFor(ctx, state)
		if err != nil {
			return nil, err
		}
		return s.engine.Step(ctx, state, g, input)
	})
}

// Resume merges patch into an interrupted conversation, re-runs the pending
// node and continues like Send.
func (s *ConversationService) Resume(ctx context.Context, threadID string, patch map[string]any, actor string) (*Outcome, error) {
	return s.move(ctx, "resume", threadID, func(ctx context.Context, state *flow.ConversationState) (*engine.StepResult, error) {
		if !state.UsesWorkflow() {
			return nil, fmt.Errorf("resume thread %s: %w", threadID, flow.ErrNotInterrupted)
		}
		return s.drive(ctx, state, func(g *graph.Graph) (*engine.StepResult, error) {
			return s.engine.Resume(ctx, state, g, patch, actor)
		})
	})
}

// Cancel ends an active or interrupted conversation. Terminal conversations
// are returned unchanged.
func (s *ConversationService) Cancel(ctx context.Context, threadID, reason, actor string) (*Outcome, error) {
	return s.move(ctx, "cancel", threadID, func(_ context.Context, state *flow.ConversationState) (*engine.StepResult, error) {
		if state.Status.Terminal() {
			return &engine.StepResult{State: state.Clone()}, nil
		}
		return s.cancelled(state, reason, actor), nil
	})
}

// cancelled returns the cancelled successor of state.
func (s *ConversationService) cancelled(state *flow.ConversationState, reason, actor string) *engine.StepResult {
	now := s.now()
	next := state.Clone()
	next.Status = flow.StatusCancelled
	next.PendingNode = ""
	next.UpdatedAt = now
	res := &engine.StepResult{State: next}
	if reason != "" {
		msg := flow.Message{Role: flow.RoleSystem, Content: "Conversation cancelled: " + reason, NodeID: next.CurrentNode, Timestamp: now}
		next.Messages = append(next.Messages, msg)
		res.Messages = append(res.Messages, msg)
	}
	res.Events = append(res.Events, flow.Event{
		Type:      flow.EventCancelled,
		ThreadID:  next.ThreadID,
		NodeID:    next.CurrentNode,
		Payload:   map[string]any{"reason": reason, "actor": actor},
		Timestamp: now,
	})
	return res
}

func (s *ConversationService) Get(ctx context.Context, threadID string) (*flow.ConversationState, error) {
	return s.threads.Load(ctx, threadID)
}

func (s *ConversationService) Messages(ctx context.Context, threadID string) ([]flow.Message, error) {
	if _, err := s.threads.Load(ctx, threadID); err != nil {
		return nil, err
	}
	return s.threads.List(ctx, threadID)
}

func (s *ConversationService) List(ctx context.Context, f flow.ThreadFilter) ([]*flow.ConversationState, int, error) {
	return s.threads.Find(ctx, f)
}

// Delete removes a thread. A step in flight on the thread makes it fail with
// flow.ErrThreadBusy.
func (s *ConversationService) Delete(ctx context.Context, threadID string) error {
	if err := s.locker.Acquire(ctx, threadID); err != nil {
		return err
	}
	defer s.locker.Release(threadID)
	if err := s.threads.Delete(ctx, threadID); err != nil {
		return err
	}
	slog.Info("conversation deleted", "thread", threadID)
	return nil
}

// ExpireInterrupted cancels conversations that have been waiting for
// approval since before cutoff and returns how many were cancelled. Each
// candidate is re-checked under its thread lock, so a thread resumed after
// the search is left alone.
func (s *ConversationService) ExpireInterrupted(ctx context.Context, cutoff time.Time) (int, error) {
	stale, _, err := s.threads.Find(ctx, flow.ThreadFilter{
		Statuses:      []flow.Status{flow.StatusInterrupted},
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, st := range stale {
		expired := false
		_, err := s.move(ctx, "expire", st.ThreadID, func(_ context.Context, state *flow.ConversationState) (*engine.StepResult, error) {
			if state.Status != flow.StatusInterrupted || !state.UpdatedAt.Before(cutoff) {
				return &engine.StepResult{State: state.Clone()}, nil
			}
			expired = true
			return s.cancelled(state, "approval timed out", "system"), nil
		})
		if err != nil {
			slog.Warn("expire interrupted thread failed", "thread", st.ThreadID, "err", err)
			continue
		}
		if expired {
			cancelled++
		}
	}
	return cancelled, nil
}

// move runs fn on the thread's current state under the thread lock and
// commits its result with a compare-and-set on the loaded version. Events
// are published only after the commit; a failure publishes step.failed.
func (s *ConversationService) move(ctx context.Context, op, threadID string, fn func(context.Context, *flow.ConversationState) (*engine.StepResult, error)) (_ *Outcome, err error) {
	ctx, end := s.telemetry.start(ctx, op, threadID)
	defer func() {
		end(err)
		if err != nil {
			s.publishFailure(op, threadID, err)
		}
	}()

	if err := s.locker.Acquire(ctx, threadID); err != nil {
		return nil, err
	}
	defer s.locker.Release(threadID)

	loaded, err := s.threads.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	res, err := fn(ctx, loaded)
	if err != nil {
		return nil, err
	}

	if len(res.Messages) > 0 || len(res.Events) > 0 {
		if err := s.threads.Commit(ctx, res.State, loaded.Version, res.Messages); err != nil {
			return nil, err
		}
		res.State.Version = loaded.Version + 1
	}
	for _, ev := range res.Events {
		s.bus.Publish(ev)
	}
	return &Outcome{State: res.State, Messages: nonNil(res.Messages)}, nil
}

// drive performs first and then keeps stepping without input while the
// conversation is active and not waiting for the user.
func (s *ConversationService) drive(ctx context.Context, state *flow.ConversationState, first func(*graph.Graph) (*engine.StepResult, error)) (*engine.StepResult, error) {
	g, err := s.graphFor(ctx, state)
	if err != nil {
		return nil, err
	}
	total, err := first(g)
	if err != nil {
		return nil, err
	}
	for steps := 1; steps < s.maxSteps && !engine.AwaitingInput(total.State); steps++ {
		next, err := s.engine.Step(ctx, total.State, g, "")
		if err != nil {
			return nil, err
		}
		total.State = next.State
		total.Messages = append(total.Messages, next.Messages...)
		total.Events = append(total.Events, next.Events...)
	}
	if !engine.AwaitingInput(total.State) {
		slog.Warn("step budget spent", "thread", state.ThreadID, "node", total.State.CurrentNode, "max_steps", s.maxSteps)
	}
	return total, nil
}

// chat answers a message on a thread without workflow using the default
// model.
func (s *ConversationService) chat(ctx context.Context, state *flow.ConversationState, input string) (*engine.StepResult, error) {
	if state.Status != flow.StatusActive {
		return nil, fmt.Errorf("chat thread %s: %w", state.ThreadID, flow.ErrCancelled)
	}
	next := state.Clone()
	res := &engine.StepResult{State: next}
	add := func(role flow.Role, content string) {
		m := flow.Message{Role: role, Content: content, Timestamp: s.now()}
		next.Messages = append(next.Messages, m)
		res.Messages = append(res.Messages, m)
	}
	if input != "" {
		add(flow.RoleUser, input)
	}
	reply, err := s.completion.Complete(ctx, ports.CompletionRequest{History: next.Messages})
	if err != nil {
		return nil, err
	}
	add(flow.RoleAgent, reply)
	next.UpdatedAt = s.now()
	res.Events = append(res.Events, flow.Event{
		Type:      flow.EventStepCompleted,
		ThreadID:  next.ThreadID,
		Payload:   map[string]any{"status": string(next.Status)},
		Timestamp: next.UpdatedAt,
	})
	return res, nil
}

func (s *ConversationService) publishFailure(op, threadID string, err error) {
	if threadID == "" || errors.Is(err, flow.ErrNotFound) {
		return
	}
	s.bus.Publish(flow.Event{
		Type:      flow.EventStepFailed,
		ThreadID:  threadID,
		Payload:   map[string]any{"op": op, "error": err.Error()},
		Timestamp: s.now(),
	})
	slog.Warn("conversation operation failed", "op", op, "thread", threadID, "err", err)
}

// graphFor returns the graph a workflow thread runs on.
func (s *ConversationService) graphFor(ctx context.Context, state *flow.ConversationState) (*graph.Graph, error) {
	return s.templates.Graph(ctx, state.Template, state.TemplateVersion)
}

func nonNil(msgs []flow.Message) []flow.Message {
	if msgs == nil {
		return []flow.Message{}
	}
	return msgs
}
