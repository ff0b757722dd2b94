// Package engine drives a conversation through a compiled workflow graph one
// step at a time.
//
// The engine never mutates the state it is given. Every call works on a
// deep copy and returns the updated copy together with the messages and
// events it produced, so a failed call leaves the caller's state untouched
// and the caller decides when to persist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/flow/ports"
	"github.com/soochol/convograph/internal/graph"
	"github.com/soochol/convograph/internal/llmutil"
	"github.com/soochol/convograph/internal/tools"
)

const defaultTopK = 3

// ErrNoWorkflow is returned when a workflow operation targets a thread that
// is not bound to a template.
var ErrNoWorkflow = errors.New("thread has no workflow")

// ToolSource resolves tool names used by tool nodes.
type ToolSource interface {
	Get(name string) (tools.Tool, bool)
}

type Engine struct {
	completion ports.CompletionProvider
	tools      ToolSource
	retriever  ports.Retriever
	now        func() time.Time
}

type Option func(*Engine)

// WithRetriever enables knowledge retrieval for agent nodes that declare a
// knowledge collection.
func WithRetriever(r ports.Retriever) Option {
	return func(e *Engine) { e.retriever = r }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(completion ports.CompletionProvider, toolSource ToolSource, opts ...Option) *Engine {
	e := &Engine{
		completion: completion,
		tools:      toolSource,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StepResult is the outcome of a successful Step or Resume.
type StepResult struct {
	State *flow.ConversationState
	// Messages produced by this call, in order. They are already part of
	// State.Messages.
	Messages []flow.Message
	// Events to publish once State has been committed.
	Events []flow.Event
}

// Initialize returns a fresh conversation positioned at the start node of g.
// A thread ID is generated when threadID is empty.
func (e *Engine) Initialize(g *graph.Graph, threadID string) *flow.ConversationState {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	now := e.now()
	return &flow.ConversationState{
		ThreadID:        threadID,
		Template:        g.Name(),
		TemplateVersion: g.Version(),
		CurrentNode:     g.Start(),
		History:         []flow.Transition{},
		Context:         map[string]any{},
		Messages:        []flow.Message{},
		Status:          flow.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Step appends input (when non-empty) as a user message, executes the
// current node and follows exactly one routed edge.
//
// A completed conversation is returned unchanged. Cancelled and interrupted
// conversations are rejected with flow.ErrCancelled and flow.ErrInterrupted.
// A tool node whose preconditions are unmet does not fail: the returned
// state is interrupted with PendingNode set.
func (e *Engine) Step(ctx context.Context, state *flow.ConversationState, g *graph.Graph, input string) (*StepResult, error) {
	if err := checkGraph(state, g); err != nil {
		return nil, err
	}
	switch state.Status {
	case flow.StatusCompleted:
		return &StepResult{State: state.Clone()}, nil
	case flow.StatusCancelled:
		return nil, fmt.Errorf("step thread %s: %w", state.ThreadID, flow.ErrCancelled)
	case flow.StatusInterrupted:
		return nil, fmt.Errorf("step thread %s: pending node %s: %w", state.ThreadID, state.PendingNode, flow.ErrInterrupted)
	}

	r := e.newRun(state, "")
	if input != "" {
		r.addMessage(flow.RoleUser, input, state.CurrentNode)
	}
	if err := e.advance(ctx, r, g); err != nil {
		return nil, err
	}
	return r.finish(), nil
}

// Resume merges patch into the context of an interrupted conversation and
// re-runs the pending node without new input. actor is recorded on the
// resumed event and on the transitions this call makes.
func (e *Engine) Resume(ctx context.Context, state *flow.ConversationState, g *graph.Graph, patch map[string]any, actor string) (*StepResult, error) {
	if err := checkGraph(state, g); err != nil {
		return nil, err
	}
	if state.Status != flow.StatusInterrupted {
		return nil, fmt.Errorf("resume thread %s (status %s): %w", state.ThreadID, state.Status, flow.ErrNotInterrupted)
	}

	r := e.newRun(state, actor)
	s := r.state
	maps.Copy(s.Context, patch)
	if s.PendingNode != "" {
		s.CurrentNode = s.PendingNode
	}
	s.PendingNode = ""
	s.Status = flow.StatusActive

	keys := slices.Sorted(maps.Keys(patch))
	r.emit(flow.EventResumed, s.CurrentNode, map[string]any{"actor": actor, "keys": keys})
	slog.Info("conversation resumed", "thread", s.ThreadID, "node", s.CurrentNode, "actor", actor, "keys", keys)

	if err := e.advance(ctx, r, g); err != nil {
		return nil, err
	}
	return r.finish(), nil
}

// AwaitingInput reports whether the conversation should wait for the next
// user message instead of being stepped again: it is not active, or the
// current node already answered.
func AwaitingInput(s *flow.ConversationState) bool {
	if s.Status != flow.StatusActive {
		return true
	}
	last, ok := s.LastMessage()
	return ok && last.Role == flow.RoleAgent && last.NodeID == s.CurrentNode
}

func checkGraph(state *flow.ConversationState, g *graph.Graph) error {
	if state == nil {
		return errors.New("conversation state is nil")
	}
	if g == nil || !state.UsesWorkflow() {
		return fmt.Errorf("thread %s: %w", state.ThreadID, ErrNoWorkflow)
	}
	if state.Template != g.Name() {
		return fmt.Errorf("thread %s runs template %q, got %q", state.ThreadID, state.Template, g.Name())
	}
	return nil
}

// advance executes the current node and applies one routed transition.
func (e *Engine) advance(ctx context.Context, r *run, g *graph.Graph) error {
	s := r.state
	node, ok := g.Node(s.CurrentNode)
	if !ok {
		return fmt.Errorf("thread %s: current node %q: %w", s.ThreadID, s.CurrentNode, flow.ErrNotFound)
	}

	if node.Kind == flow.NodeKindStart {
		entry := g.Outgoing(node.ID)[0]
		r.transition(entry, "start")
		node, _ = g.Node(entry.To)
	}
	if node.Kind == flow.NodeKindEnd {
		r.complete(node.ID)
		return nil
	}

	out, err := e.execute(ctx, r, node)
	if err != nil {
		var ie *interruptError
		if errors.As(err, &ie) {
			r.interrupt(node, ie.missing)
			return nil
		}
		return err
	}

	edge, reason, err := e.route(ctx, r, g, node, out)
	if err != nil {
		return err
	}
	r.transition(edge, reason)
	if target, _ := g.Node(edge.To); target.Kind == flow.NodeKindEnd {
		r.complete(edge.To)
	}
	return nil
}

// outcome is what a node handler hands to routing.
type outcome struct {
	// branch is an explicit branch chosen by a tool.
	branch string
}

// interruptError carries the unmet preconditions of a tool node.
type interruptError struct {
	node    string
	missing []string
}

func (e *interruptError) Error() string {
	return fmt.Sprintf("node %s requires %s", e.node, strings.Join(e.missing, ", "))
}

func (e *interruptError) Unwrap() error { return flow.ErrInterruptRequired }

func (e *Engine) execute(ctx context.Context, r *run, node flow.Node) (outcome, error) {
	switch node.Kind {
	case flow.NodeKindAgent:
		return e.runAgent(ctx, r, node)
	case flow.NodeKindTool:
		return e.runTool(ctx, r, node)
	case flow.NodeKindCondition:
		return outcome{}, nil
	default:
		return outcome{}, fmt.Errorf("node %s: unsupported kind %q", node.ID, node.Kind)
	}
}

func (e *Engine) runAgent(ctx context.Context, r *run, node flow.Node) (outcome, error) {
	if e.completion == nil {
		return outcome{}, fmt.Errorf("agent node %s: no completion provider: %w", node.ID, flow.ErrProviderError)
	}
	// Tool nodes earlier in the flow can feed agent prompts through context.
	system := llmutil.Render(node.Config.SystemPrompt, r.state.Context)
	if kc := node.Config.Knowledge; kc != nil && e.retriever != nil {
		system = e.withKnowledge(ctx, r.state, node.ID, kc, system)
	}

	text, err := e.completion.Complete(ctx, ports.CompletionRequest{
		Model:        node.Config.Model,
		SystemPrompt: system,
		History:      slices.Clone(r.state.Messages),
	})
	if err != nil {
		return outcome{}, fmt.Errorf("agent node %s: %w", node.ID, providerError(err))
	}
	r.addMessage(flow.RoleAgent, text, node.ID)
	return outcome{}, nil
}

// withKnowledge appends retrieved documents to the system prompt. Retrieval
// failures only cost the extra context.
func (e *Engine) withKnowledge(ctx context.Context, s *flow.ConversationState, nodeID string, kc *flow.KnowledgeConfig, system string) string {
	k := kc.TopK
	if k <= 0 {
		k = defaultTopK
	}
	docs, err := e.retriever.Retrieve(ctx, kc.Collection, s.LastUserInput(), k)
	if err != nil {
		slog.Warn("knowledge retrieval failed", "thread", s.ThreadID, "node", nodeID, "collection", kc.Collection, "err", err)
		return system
	}
	if len(docs) == 0 {
		return system
	}
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nRelevant knowledge:\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, d.Content)
	}
	return b.String()
}

func (e *Engine) runTool(ctx context.Context, r *run, node flow.Node) (outcome, error) {
	name := node.Config.Tool
	if e.tools == nil {
		return outcome{}, fmt.Errorf("tool node %s: no tool registry: %w", node.ID, flow.ErrToolFailed)
	}
	tool, ok := e.tools.Get(name)
	if !ok {
		return outcome{}, fmt.Errorf("tool node %s: unknown tool %q: %w", node.ID, name, flow.ErrToolFailed)
	}

	if missing := missingKeys(r.state.Context, requirements(node, tool)); len(missing) > 0 {
		return outcome{}, &interruptError{node: node.ID, missing: missing}
	}

	res, err := tool.Execute(ctx, tools.Call{
		ThreadID: r.state.ThreadID,
		NodeID:   node.ID,
		Args:     maps.Clone(node.Config.Args),
		Context:  maps.Clone(r.state.Context),
		Messages: slices.Clone(r.state.Messages),
	})
	if err != nil {
		return outcome{}, fmt.Errorf("tool node %s (%s): %w: %w", node.ID, name, flow.ErrToolFailed, err)
	}
	if res == nil {
		return outcome{}, nil
	}
	maps.Copy(r.state.Context, res.ContextDelta)
	if res.Message != "" {
		r.addMessage(flow.RoleAgent, res.Message, node.ID)
	}
	return outcome{branch: res.Branch}, nil
}

// requirements merges the context keys a node declares with those its tool
// declares, keeping first-seen order.
func requirements(node flow.Node, tool tools.Tool) []string {
	keys := slices.Clone(node.Config.Requires)
	if g, ok := tool.(tools.Guarded); ok {
		keys = append(keys, g.Requires()...)
	}
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func missingKeys(ctx map[string]any, keys []string) []string {
	var missing []string
	for _, k := range keys {
		if !flow.Truthy(ctx[k]) {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// providerError makes sure a completion failure carries one of the provider
// sentinels.
func providerError(err error) error {
	switch {
	case errors.Is(err, flow.ErrProviderTimeout), errors.Is(err, flow.ErrProviderError):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", flow.ErrProviderTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", flow.ErrProviderError, err)
	}
}

// run accumulates the effects of one Step or Resume on a private copy of
// the state.
type run struct {
	state    *flow.ConversationState
	actor    string
	now      func() time.Time
	messages []flow.Message
	events   []flow.Event
}

func (e *Engine) newRun(state *flow.ConversationState, actor string) *run {
	return &run{state: state.Clone(), actor: actor, now: e.now}
}

func (r *run) addMessage(role flow.Role, content, nodeID string) {
	m := flow.Message{Role: role, Content: content, NodeID: nodeID, Timestamp: r.now()}
	r.state.Messages = append(r.state.Messages, m)
	r.messages = append(r.messages, m)
}

func (r *run) emit(typ flow.EventType, nodeID string, payload map[string]any) {
	r.events = append(r.events, flow.Event{
		Type:      typ,
		ThreadID:  r.state.ThreadID,
		NodeID:    nodeID,
		Payload:   payload,
		Timestamp: r.now(),
	})
}

func (r *run) transition(edge flow.Edge, reason string) {
	s := r.state
	s.History = append(s.History, flow.Transition{
		From:      edge.From,
		To:        edge.To,
		Reason:    reason,
		Actor:     r.actor,
		Timestamp: r.now(),
	})
	s.CurrentNode = edge.To
	r.emit(flow.EventTransition, edge.To, map[string]any{"from": edge.From, "to": edge.To, "reason": reason})
	slog.Debug("transition", "thread", s.ThreadID, "from", edge.From, "to", edge.To, "reason", reason)
}

func (r *run) complete(nodeID string) {
	r.state.Status = flow.StatusCompleted
	r.emit(flow.EventCompleted, nodeID, nil)
}

func (r *run) interrupt(node flow.Node, missing []string) {
	r.state.Status = flow.StatusInterrupted
	r.state.PendingNode = node.ID
	r.emit(flow.EventInterrupted, node.ID, map[string]any{"tool": node.Config.Tool, "missing": missing})
	slog.Info("conversation interrupted", "thread", r.state.ThreadID, "node", node.ID, "missing", missing)
}

func (r *run) finish() *StepResult {
	s := r.state
	s.UpdatedAt = r.now()
	r.emit(flow.EventStepCompleted, s.CurrentNode, map[string]any{"status": string(s.Status)})
	return &StepResult{State: s, Messages: r.messages, Events: r.events}
}
