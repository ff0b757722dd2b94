package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/flow/ports"
	"github.com/soochol/convograph/internal/graph"
	"github.com/soochol/convograph/internal/llmutil"
)

const defaultRoutingPrompt = `Classify the conversation into exactly one of these labels: {{labels}}.

Customer message:
{{input}}

Agent reply:
{{response}}`

// route picks the outgoing edge to follow after node has executed.
func (e *Engine) route(ctx context.Context, r *run, g *graph.Graph, node flow.Node, out outcome) (flow.Edge, string, error) {
	edges := g.Outgoing(node.ID)
	if len(edges) == 1 && edges[0].Branch == "" && edges[0].When == "" {
		return edges[0], "next", nil
	}
	if out.branch != "" {
		if edge, ok := matchExact(edges, out.branch); ok {
			return edge, "selected " + branchKey(edge.Branch), nil
		}
	}

	switch node.Kind {
	case flow.NodeKindCondition:
		return routeCondition(r.state, node, edges)
	case flow.NodeKindAgent:
		return e.routeAgent(ctx, r, node, edges)
	}
	if def, ok := defaultEdge(edges); ok {
		return def, "default", nil
	}
	return flow.Edge{}, "", fmt.Errorf("node %s: branch %q matches no edge: %w", node.ID, out.branch, flow.ErrUnroutableResponse)
}

// routeAgent asks the classifier which branch the agent's turn belongs to.
func (e *Engine) routeAgent(ctx context.Context, r *run, node flow.Node, edges []flow.Edge) (flow.Edge, string, error) {
	keys := branchKeys(edges)
	if len(keys) == 0 {
		if def, ok := defaultEdge(edges); ok {
			return def, "default", nil
		}
		return flow.Edge{}, "", fmt.Errorf("node %s declares no branches: %w", node.ID, flow.ErrUnroutableResponse)
	}

	prompt := node.Config.RoutingPrompt
	if prompt == "" {
		prompt = defaultRoutingPrompt
	}
	vars := maps.Clone(r.state.Context)
	if vars == nil {
		vars = make(map[string]any)
	}
	vars["input"] = r.state.LastUserInput()
	vars["response"] = lastAgentReply(r.state, node.ID)
	vars["labels"] = strings.Join(keys, ", ")

	label, err := e.completion.Classify(ctx, ports.ClassifyRequest{
		Prompt: llmutil.Render(prompt, vars),
		Labels: keys,
	})
	if err != nil {
		return flow.Edge{}, "", fmt.Errorf("route node %s: %w", node.ID, providerError(err))
	}

	if edge, ok := SelectBranch(edges, label); ok {
		return edge, "classified as " + branchKey(edge.Branch), nil
	}
	if def, ok := defaultEdge(edges); ok {
		slog.Warn("classifier output matched no branch, using default", "thread", r.state.ThreadID, "node", node.ID, "output", label)
		return def, fmt.Sprintf("default (classifier said %q)", label), nil
	}
	return flow.Edge{}, "", fmt.Errorf("node %s: classifier output %q matches none of %s: %w",
		node.ID, label, strings.Join(keys, ", "), flow.ErrUnroutableResponse)
}

// SelectBranch maps classifier output onto one of edges. An exact,
// case-insensitive match wins. Otherwise the edges whose branch key is
// contained in the output are considered, longest key first and declaration
// order on ties.
func SelectBranch(edges []flow.Edge, output string) (flow.Edge, bool) {
	label := llmutil.NormalizeLabel(output)
	if label == "" {
		return flow.Edge{}, false
	}
	if edge, ok := matchExact(edges, label); ok {
		return edge, true
	}

	type candidate struct {
		edge flow.Edge
		key  string
	}
	var candidates []candidate
	for _, e := range edges {
		key := branchKey(e.Branch)
		if key != "" && strings.Contains(label, key) {
			candidates = append(candidates, candidate{edge: e, key: key})
		}
	}
	if len(candidates) == 0 {
		return flow.Edge{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].key) > len(candidates[j].key)
	})
	return candidates[0].edge, true
}

func matchExact(edges []flow.Edge, label string) (flow.Edge, bool) {
	want := branchKey(label)
	for _, e := range edges {
		if e.Branch != "" && branchKey(e.Branch) == want {
			return e, true
		}
	}
	return flow.Edge{}, false
}

func branchKey(b string) string {
	return strings.ToUpper(strings.TrimSpace(b))
}

func branchKeys(edges []flow.Edge) []string {
	var keys []string
	for _, e := range edges {
		if e.Branch != "" {
			keys = append(keys, branchKey(e.Branch))
		}
	}
	return keys
}

func defaultEdge(edges []flow.Edge) (flow.Edge, bool) {
	for _, e := range edges {
		if e.Default {
			return e, true
		}
	}
	return flow.Edge{}, false
}

// lastAgentReply returns the latest agent message produced by nodeID.
func lastAgentReply(s *flow.ConversationState, nodeID string) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == flow.RoleAgent && m.NodeID == nodeID {
			return m.Content
		}
	}
	return ""
}

// routeCondition follows the first edge whose expression holds, else the
// default edge.
func routeCondition(s *flow.ConversationState, node flow.Node, edges []flow.Edge) (flow.Edge, string, error) {
	env := conditionEnv(s)
	for _, edge := range edges {
		if edge.When == "" {
			continue
		}
		ok, err := evaluateCondition(edge.When, env)
		if err != nil {
			slog.Warn("condition evaluation failed", "thread", s.ThreadID, "node", node.ID, "when", edge.When, "err", err)
			continue
		}
		if ok {
			return edge, "when " + edge.When, nil
		}
	}
	if def, ok := defaultEdge(edges); ok {
		return def, "default", nil
	}
	return flow.Edge{}, "", fmt.Errorf("node %s: no condition holds: %w", node.ID, flow.ErrUnroutableResponse)
}

// conditionEnv exposes the context keys at the top level, plus the whole
// context, the last user input and the message count.
func conditionEnv(s *flow.ConversationState) map[string]any {
	env := make(map[string]any, len(s.Context)+3)
	for k, v := range s.Context {
		env[k] = v
	}
	env["context"] = maps.Clone(s.Context)
	env["input"] = s.LastUserInput()
	env["turns"] = len(s.Messages)
	return env
}

func evaluateCondition(expression string, env map[string]any) (bool, error) {
	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	return flow.Truthy(result), nil
}
