package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/soochol/convograph/internal/flow"
)

func linear() *flow.WorkflowTemplate {
	return &flow.WorkflowTemplate{
		Name:    "linear",
		Version: 3,
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.NodeKindStart},
			{ID: "a", Kind: flow.NodeKindAgent},
			{ID: "end", Kind: flow.NodeKindEnd},
		},
		Edges: []flow.Edge{
			{From: "start", To: "a"},
			{From: "a", To: "end"},
		},
	}
}

func problems(t *testing.T, tpl *flow.WorkflowTemplate, opts ...Option) []string {
	t.Helper()
	_, err := Compile(tpl, opts...)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var te *flow.TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("expected *flow.TemplateError, got %T: %v", err, err)
	}
	if !errors.Is(err, flow.ErrTemplateInvalid) {
		t.Fatal("TemplateError must unwrap to ErrTemplateInvalid")
	}
	return te.Problems
}

func hasProblem(list []string, substr string) bool {
	for _, p := range list {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

func TestCompile_Linear(t *testing.T) {
	g, err := Compile(linear())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if g.Name() != "linear" || g.Version() != 3 {
		t.Fatalf("unexpected identity %s@%d", g.Name(), g.Version())
	}
	if g.Start() != "start" {
		t.Fatalf("start: got %q", g.Start())
	}
	if ends := g.Ends(); len(ends) != 1 || ends[0] != "end" {
		t.Fatalf("ends: got %v", ends)
	}
	if out := g.Outgoing("a"); len(out) != 1 || out[0].To != "end" {
		t.Fatalf("outgoing a: got %+v", out)
	}
	if parents := g.Parents("end"); len(parents) != 1 || parents[0] != "a" {
		t.Fatalf("parents end: got %v", parents)
	}
	if _, ok := g.Node("missing"); ok {
		t.Fatal("unexpected node")
	}
}

func TestCompile_IsolatedFromCaller(t *testing.T) {
	tpl := linear()
	g, err := Compile(tpl)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	tpl.Nodes[1].Config.SystemPrompt = "changed"
	tpl.Edges[1].To = "start"
	if n, _ := g.Node("a"); n.Config.SystemPrompt != "" {
		t.Fatal("graph shares nodes with the caller's template")
	}
	if g.Outgoing("a")[0].To != "end" {
		t.Fatal("graph shares edges with the caller's template")
	}
}

func TestCompile_StartAndEnd(t *testing.T) {
	tpl := linear()
	tpl.Nodes[0].Kind = flow.NodeKindAgent
	if p := problems(t, tpl); !hasProblem(p, "no start node") {
		t.Fatalf("expected missing start, got %v", p)
	}

	tpl = linear()
	tpl.Nodes = append(tpl.Nodes, flow.Node{ID: "start2", Kind: flow.NodeKindStart})
	tpl.Edges = append(tpl.Edges, flow.Edge{From: "start2", To: "a"})
	if p := problems(t, tpl); !hasProblem(p, "2 start nodes") {
		t.Fatalf("expected duplicate start, got %v", p)
	}

	tpl = linear()
	tpl.Nodes[2].Kind = flow.NodeKindAgent
	if p := problems(t, tpl); !hasProblem(p, "no end node") {
		t.Fatalf("expected missing end, got %v", p)
	}

	tpl = linear()
	tpl.Edges = append(tpl.Edges, flow.Edge{From: "a", To: "start", Default: true})
	tpl.Edges[1].Branch = "DONE"
	if p := problems(t, tpl); !hasProblem(p, "start node start has incoming edges") {
		t.Fatalf("expected incoming start edge, got %v", p)
	}
}

func TestCompile_Edges(t *testing.T) {
	tpl := linear()
	tpl.Edges = append(tpl.Edges, flow.Edge{From: "a", To: "ghost"})
	if p := problems(t, tpl); !hasProblem(p, "unknown node: ghost") {
		t.Fatalf("expected unknown node, got %v", p)
	}

	tpl = linear()
	tpl.Nodes = append(tpl.Nodes, flow.Node{ID: "b", Kind: flow.NodeKindAgent})
	tpl.Edges = append(tpl.Edges, flow.Edge{From: "a", To: "b"})
	p := problems(t, tpl)
	if !hasProblem(p, "needs a branch") {
		t.Fatalf("expected unlabeled fan-out, got %v", p)
	}
	if !hasProblem(p, "node b has no outgoing edge") {
		t.Fatalf("expected dead end, got %v", p)
	}

	tpl = linear()
	tpl.Edges[1].Kind = "wavy"
	if p := problems(t, tpl); !hasProblem(p, "unknown kind") {
		t.Fatalf("expected unknown edge kind, got %v", p)
	}
}

func TestCompile_Branches(t *testing.T) {
	tpl := linear()
	tpl.Nodes = append(tpl.Nodes, flow.Node{ID: "b", Kind: flow.NodeKindAgent})
	tpl.Edges = []flow.Edge{
		{From: "start", To: "a"},
		{From: "a", To: "b", Branch: "billing"},
		{From: "a", To: "end", Branch: "BILLING", Default: true},
		{From: "b", To: "end", Default: true},
	}
	if p := problems(t, tpl); !hasProblem(p, "declares branch \"BILLING\" twice") {
		t.Fatalf("expected duplicate branch, got %v", p)
	}

	tpl.Edges[2].Branch = "RESPOND"
	tpl.Edges[1].Default = true
	if p := problems(t, tpl); !hasProblem(p, "2 default edges") {
		t.Fatalf("expected two defaults, got %v", p)
	}

	tpl.Edges[1].Default = false
	g, err := Compile(tpl)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if def, ok := g.DefaultEdge("a"); !ok || def.To != "end" {
		t.Fatalf("default edge: got %+v, %v", def, ok)
	}
	if keys := g.Branches("a"); len(keys) != 2 || keys[0] != "billing" {
		t.Fatalf("branches: got %v", keys)
	}
}

func TestCompile_Conditions(t *testing.T) {
	tpl := &flow.WorkflowTemplate{
		Name: "gate",
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.NodeKindStart},
			{ID: "check", Kind: flow.NodeKindCondition},
			{ID: "big", Kind: flow.NodeKindAgent},
			{ID: "end", Kind: flow.NodeKindEnd},
		},
		Edges: []flow.Edge{
			{From: "start", To: "check"},
			{From: "check", To: "big", When: "amount > 100"},
			{From: "check", To: "end", Default: true},
			{From: "big", To: "end"},
		},
	}
	if _, err := Compile(tpl); err != nil {
		t.Fatalf("compile: %v", err)
	}

	tpl.Edges[1].When = "amount >"
	if p := problems(t, tpl); !hasProblem(p, "invalid condition") {
		t.Fatalf("expected invalid condition, got %v", p)
	}

	tpl.Edges[1].When = ""
	tpl.Edges[3].When = "true"
	if p := problems(t, tpl); !hasProblem(p, "only allowed on condition nodes") {
		t.Fatalf("expected condition on agent edge, got %v", p)
	}
}

func TestCompile_Reachability(t *testing.T) {
	tpl := linear()
	tpl.Nodes = append(tpl.Nodes, flow.Node{ID: "orphan", Kind: flow.NodeKindAgent})
	tpl.Edges = append(tpl.Edges, flow.Edge{From: "orphan", To: "end"})
	if p := problems(t, tpl); !hasProblem(p, "orphan is unreachable") {
		t.Fatalf("expected unreachable node, got %v", p)
	}

	// A loop with no way out.
	tpl = linear()
	tpl.Nodes = append(tpl.Nodes,
		flow.Node{ID: "x", Kind: flow.NodeKindAgent},
		flow.Node{ID: "y", Kind: flow.NodeKindAgent},
	)
	tpl.Edges = []flow.Edge{
		{From: "start", To: "a"},
		{From: "a", To: "end", Branch: "DONE"},
		{From: "a", To: "x", Branch: "LOOP"},
		{From: "x", To: "y"},
		{From: "y", To: "x"},
	}
	if p := problems(t, tpl); !hasProblem(p, "cannot reach an end node") {
		t.Fatalf("expected trapped loop, got %v", p)
	}

	// Loops that can exit are fine.
	tpl.Edges[4] = flow.Edge{From: "y", To: "a"}
	if _, err := Compile(tpl); err != nil {
		t.Fatalf("compile loop: %v", err)
	}
}

func TestCompile_ToolLookup(t *testing.T) {
	tpl := linear()
	tpl.Nodes[1] = flow.Node{ID: "a", Kind: flow.NodeKindTool, Config: flow.NodeConfig{Tool: "refund"}}

	if _, err := Compile(tpl); err != nil {
		t.Fatalf("compile without lookup: %v", err)
	}
	known := WithToolLookup(func(name string) bool { return name == "refund" })
	if _, err := Compile(tpl, known); err != nil {
		t.Fatalf("compile with known tool: %v", err)
	}
	unknown := WithToolLookup(func(string) bool { return false })
	if p := problems(t, tpl, unknown); !hasProblem(p, "unknown tool \"refund\"") {
		t.Fatalf("expected unknown tool, got %v", p)
	}

	tpl.Nodes[1].Config.Tool = ""
	if p := problems(t, tpl); !hasProblem(p, "names no tool") {
		t.Fatalf("expected missing tool name, got %v", p)
	}
}

func TestCompile_ReportsEveryProblem(t *testing.T) {
	tpl := &flow.WorkflowTemplate{
		Nodes: []flow.Node{
			{ID: "a", Kind: "bogus"},
			{ID: "a", Kind: flow.NodeKindAgent},
		},
	}
	p := problems(t, tpl)
	for _, want := range []string{"template name is empty", "unknown kind \"bogus\"", "duplicate node ID: a", "no start node", "no end node"} {
		if !hasProblem(p, want) {
			t.Errorf("missing problem %q in %v", want, p)
		}
	}
	if _, err := Compile(nil); err == nil {
		t.Fatal("expected error for nil template")
	}
}
