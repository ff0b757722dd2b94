// Package graph validates workflow templates and compiles them into an
// immutable, shareable Graph.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/soochol/convograph/internal/flow"
)

// Graph is a validated WorkflowTemplate. It is read-only and safe for
// concurrent use by any number of conversations.
type Graph struct {
	tpl      *flow.WorkflowTemplate
	nodes    map[string]*flow.Node
	children map[string][]flow.Edge
	parents  map[string][]string
	start    string
	ends     []string
}

type compileOptions struct {
	toolExists func(name string) bool
}

// Option customizes Compile.
type Option func(*compileOptions)

// WithToolLookup makes Compile reject tool nodes naming an unknown tool.
func WithToolLookup(exists func(name string) bool) Option {
	return func(o *compileOptions) { o.toolExists = exists }
}

// Compile validates tpl and returns its compiled Graph. Every problem found
// is reported in a single *flow.TemplateError.
func Compile(tpl *flow.WorkflowTemplate, opts ...Option) (*Graph, error) {
	if tpl == nil {
		return nil, &flow.TemplateError{Problems: []string{"template is nil"}}
	}
	var o compileOptions
	for _, opt := range opts {
		opt(&o)
	}

	tpl = tpl.Clone()
	g := &Graph{
		tpl:      tpl,
		nodes:    make(map[string]*flow.Node),
		children: make(map[string][]flow.Edge),
		parents:  make(map[string][]string),
	}
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(tpl.Name) == "" {
		fail("template name is empty")
	}

	var starts []string
	for i := range tpl.Nodes {
		n := &tpl.Nodes[i]
		if n.ID == "" {
			fail("node %d has no id", i)
			continue
		}
		if _, exists := g.nodes[n.ID]; exists {
			fail("duplicate node ID: %s", n.ID)
			continue
		}
		if !n.Kind.Valid() {
			fail("node %s has unknown kind %q", n.ID, n.Kind)
		}
		g.nodes[n.ID] = n
		switch n.Kind {
		case flow.NodeKindStart:
			starts = append(starts, n.ID)
		case flow.NodeKindEnd:
			g.ends = append(g.ends, n.ID)
		case flow.NodeKindTool:
			if n.Config.Tool == "" {
				fail("tool node %s names no tool", n.ID)
			} else if o.toolExists != nil && !o.toolExists(n.Config.Tool) {
				fail("tool node %s uses unknown tool %q", n.ID, n.Config.Tool)
			}
		}
	}

	switch len(starts) {
	case 0:
		fail("template has no start node")
	case 1:
		g.start = starts[0]
	default:
		fail("template has %d start nodes, want exactly one: %s", len(starts), strings.Join(starts, ", "))
	}
	if len(g.ends) == 0 {
		fail("template has no end node")
	}

	for _, e := range tpl.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			fail("edge references unknown node: %s", e.From)
			continue
		}
		if _, ok := g.nodes[e.To]; !ok {
			fail("edge references unknown node: %s", e.To)
			continue
		}
		if e.Kind != "" && e.Kind != flow.EdgeSolid && e.Kind != flow.EdgeDashed {
			fail("edge %s->%s has unknown kind %q", e.From, e.To, e.Kind)
		}
		if e.When != "" {
			if _, err := expr.Compile(e.When); err != nil {
				fail("edge %s->%s: invalid condition %q: %v", e.From, e.To, e.When, err)
			}
		}
		g.children[e.From] = append(g.children[e.From], e)
		g.parents[e.To] = append(g.parents[e.To], e.From)
	}

	for _, id := range g.sortedIDs() {
		n := g.nodes[id]
		out := g.children[id]
		switch {
		case n.Kind == flow.NodeKindEnd:
			if len(out) > 0 {
				fail("end node %s has outgoing edges", id)
			}
			continue
		case len(out) == 0:
			fail("node %s has no outgoing edge", id)
			continue
		}
		if n.Kind == flow.NodeKindStart {
			if len(g.parents[id]) > 0 {
				fail("start node %s has incoming edges", id)
			}
			if len(out) != 1 {
				fail("start node %s must have exactly one outgoing edge, has %d", id, len(out))
			}
		}
		problems = append(problems, checkBranches(n, out)...)
	}

	if g.start != "" && len(problems) == 0 {
		reached := g.walk([]string{g.start}, g.successorIDs)
		for _, id := range g.sortedIDs() {
			if !reached[id] {
				fail("node %s is unreachable from start", id)
			}
		}
		canEnd := g.walk(g.ends, func(id string) []string { return g.parents[id] })
		for _, id := range g.sortedIDs() {
			if reached[id] && !canEnd[id] {
				fail("node %s cannot reach an end node", id)
			}
		}
	}

	if len(problems) > 0 {
		return nil, &flow.TemplateError{Template: tpl.Name, Problems: problems}
	}
	return g, nil
}

// checkBranches validates the routing labels on the outgoing edges of n.
func checkBranches(n *flow.Node, out []flow.Edge) []string {
	var problems []string
	seen := make(map[string]bool)
	defaults := 0
	for _, e := range out {
		if e.Default {
			defaults++
		}
		if e.Branch != "" {
			key := strings.ToUpper(strings.TrimSpace(e.Branch))
			if seen[key] {
				problems = append(problems, fmt.Sprintf("node %s declares branch %q twice", n.ID, e.Branch))
			}
			seen[key] = true
		}
		if e.When != "" && n.Kind != flow.NodeKindCondition {
			problems = append(problems, fmt.Sprintf("edge %s->%s: conditions are only allowed on condition nodes", e.From, e.To))
		}
		if len(out) > 1 && e.Branch == "" && e.When == "" && !e.Default {
			problems = append(problems, fmt.Sprintf("edge %s->%s needs a branch, condition or default flag", e.From, e.To))
		}
	}
	if defaults > 1 {
		problems = append(problems, fmt.Sprintf("node %s declares %d default edges", n.ID, defaults))
	}
	return problems
}

func (g *Graph) walk(from []string, next func(string) []string) map[string]bool {
	seen := make(map[string]bool)
	queue := append([]string(nil), from...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, next(id)...)
	}
	return seen
}

func (g *Graph) successorIDs(id string) []string {
	var ids []string
	for _, e := range g.children[id] {
		ids = append(ids, e.To)
	}
	return ids
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) Name() string   { return g.tpl.Name }
func (g *Graph) Version() int   { return g.tpl.Version }
func (g *Graph) Start() string  { return g.start }
func (g *Graph) Ends() []string { return append([]string(nil), g.ends...) }

// Parents returns the IDs of nodes with an edge into id.
func (g *Graph) Parents(id string) []string {
	return append([]string(nil), g.parents[id]...)
}

// Template returns a copy of the compiled template.
func (g *Graph) Template() *flow.WorkflowTemplate { return g.tpl.Clone() }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (flow.Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return flow.Node{}, false
	}
	return *n, true
}

// Outgoing returns the edges leaving id in declaration order.
func (g *Graph) Outgoing(id string) []flow.Edge {
	return append([]flow.Edge(nil), g.children[id]...)
}

// DefaultEdge returns the default edge leaving id, if one is declared.
func (g *Graph) DefaultEdge(id string) (flow.Edge, bool) {
	for _, e := range g.children[id] {
		if e.Default {
			return e, true
		}
	}
	return flow.Edge{}, false
}

// Branches returns the branch keys declared on the edges leaving id, in
// declaration order.
func (g *Graph) Branches(id string) []string {
	var keys []string
	for _, e := range g.children[id] {
		if e.Branch != "" {
			keys = append(keys, e.Branch)
		}
	}
	return keys
}
