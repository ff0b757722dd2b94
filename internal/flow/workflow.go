// Package flow holds the domain types shared by the graph engine, the
// repositories and the HTTP layer.
package flow

type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
	NodeKindAgent     NodeKind = "agent"
	NodeKindTool      NodeKind = "tool"
	NodeKindCondition NodeKind = "condition"
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindStart, NodeKindEnd, NodeKindAgent, NodeKindTool, NodeKindCondition:
		return true
	}
	return false
}

type EdgeKind string

const (
	// EdgeSolid is traversed unconditionally.
	EdgeSolid EdgeKind = "solid"
	// EdgeDashed is a conditional branch chosen by routing.
	EdgeDashed EdgeKind = "dashed"
)

// WorkflowTemplate is the reusable definition of a workflow graph.
type WorkflowTemplate struct {
	Name        string `json:"name" yaml:"name" jsonschema:"required,minLength=1"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     int    `json:"version" yaml:"version" jsonschema:"minimum=0"`
	Nodes       []Node `json:"nodes" yaml:"nodes" jsonschema:"required,minItems=2"`
	Edges       []Edge `json:"edges" yaml:"edges" jsonschema:"required"`
}

type Node struct {
	ID       string     `json:"id" yaml:"id" jsonschema:"required,minLength=1"`
	Kind     NodeKind   `json:"kind" yaml:"kind" jsonschema:"required,enum=start,enum=end,enum=agent,enum=tool,enum=condition"`
	Label    string     `json:"label,omitempty" yaml:"label,omitempty"`
	Position *Position  `json:"position,omitempty" yaml:"position,omitempty"`
	Config   NodeConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// Position is a layout hint for editors. It never affects execution.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NodeConfig carries the kind-specific settings of a node. Fields that do
// not apply to a node's kind are ignored.
type NodeConfig struct {
	// agent
	SystemPrompt  string           `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Model         string           `json:"model,omitempty" yaml:"model,omitempty"`
	RoutingPrompt string           `json:"routing_prompt,omitempty" yaml:"routing_prompt,omitempty"`
	Knowledge     *KnowledgeConfig `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`

	// tool
	Tool     string         `json:"tool,omitempty" yaml:"tool,omitempty"`
	Requires []string       `json:"requires,omitempty" yaml:"requires,omitempty"`
	Args     map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// KnowledgeConfig enables retrieval-augmented prompts on an agent node.
type KnowledgeConfig struct {
	Collection string `json:"collection" yaml:"collection" jsonschema:"required,minLength=1"`
	TopK       int    `json:"top_k,omitempty" yaml:"top_k,omitempty" jsonschema:"minimum=0"`
}

type Edge struct {
	From    string   `json:"from" yaml:"from" jsonschema:"required,minLength=1"`
	To      string   `json:"to" yaml:"to" jsonschema:"required,minLength=1"`
	Label   string   `json:"label,omitempty" yaml:"label,omitempty"`
	Kind    EdgeKind `json:"kind,omitempty" yaml:"kind,omitempty" jsonschema:"enum=solid,enum=dashed"`
	Branch  string   `json:"branch,omitempty" yaml:"branch,omitempty"`
	When    string   `json:"when,omitempty" yaml:"when,omitempty"`
	Default bool     `json:"default,omitempty" yaml:"default,omitempty"`
}

// Conditional reports whether the edge is a routed branch rather than an
// unconditional hop.
func (e Edge) Conditional() bool {
	return e.Branch != "" || e.When != "" || e.Default || e.Kind == EdgeDashed
}

// EffectiveKind returns the declared kind, or the kind implied by the
// routing fields when none was declared.
func (e Edge) EffectiveKind() EdgeKind {
	if e.Kind != "" {
		return e.Kind
	}
	if e.Conditional() {
		return EdgeDashed
	}
	return EdgeSolid
}

// Clone returns a deep copy of the template.
func (t *WorkflowTemplate) Clone() *WorkflowTemplate {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Nodes = make([]Node, len(t.Nodes))
	for i, n := range t.Nodes {
		if n.Position != nil {
			p := *n.Position
			n.Position = &p
		}
		if n.Config.Knowledge != nil {
			k := *n.Config.Knowledge
			n.Config.Knowledge = &k
		}
		n.Config.Requires = append([]string(nil), n.Config.Requires...)
		n.Config.Args = cloneMap(n.Config.Args)
		cp.Nodes[i] = n
	}
	cp.Edges = append([]Edge(nil), t.Edges...)
	return &cp
}
