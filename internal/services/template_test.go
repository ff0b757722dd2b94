package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/repository"
	"github.com/soochol/convograph/internal/templates"
	"github.com/soochol/convograph/internal/tools"
)

func greeter(prompt string) *flow.WorkflowTemplate {
	return &flow.WorkflowTemplate{
		Name: "greeter",
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.NodeKindStart},
			{ID: "greet", Kind: flow.NodeKindAgent, Config: flow.NodeConfig{SystemPrompt: prompt}},
			{ID: "end", Kind: flow.NodeKindEnd},
		},
		Edges: []flow.Edge{
			{From: "start", To: "greet"},
			{From: "greet", To: "end"},
		},
	}
}

func newTemplateService() *TemplateService {
	return NewTemplateService(repository.NewMemoryTemplateRepository(), tools.NewDefaultRegistry().Has)
}

func TestTemplateService_CreateDefaultsVersion(t *testing.T) {
	svc := newTemplateService()
	ctx := context.Background()

	created, err := svc.Create(ctx, greeter("hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	_, err = svc.Create(ctx, greeter("hi"))
	assert.ErrorIs(t, err, flow.ErrAlreadyExists)
}

func TestTemplateService_RejectsInvalid(t *testing.T) {
	svc := newTemplateService()
	ctx := context.Background()

	noStart := greeter("hi")
	noStart.Nodes = noStart.Nodes[1:]
	noStart.Edges = noStart.Edges[1:]
	_, err := svc.Create(ctx, noStart)
	var te *flow.TemplateError
	require.ErrorAs(t, err, &te)
	assert.NotEmpty(t, te.Problems)
	assert.ErrorIs(t, err, flow.ErrTemplateInvalid)

	unknownTool := greeter("hi")
	unknownTool.Nodes[1] = flow.Node{ID: "greet", Kind: flow.NodeKindTool, Config: flow.NodeConfig{Tool: "launch_rockets"}}
	_, err = svc.Create(ctx, unknownTool)
	assert.ErrorIs(t, err, flow.ErrTemplateInvalid)

	_, err = svc.Get(ctx, "greeter")
	assert.ErrorIs(t, err, flow.ErrNotFound)
}

func TestTemplateService_UpdateBumpsVersionAndKeepsOldGraph(t *testing.T) {
	svc := newTemplateService()
	ctx := context.Background()
	_, err := svc.Create(ctx, greeter("v1"))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "greeter", greeter("v2"))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	old, err := svc.Graph(ctx, "greeter", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version())

	current, err := svc.Graph(ctx, "greeter", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version())

	// An unknown version falls back to the current graph.
	fallback, err := svc.Graph(ctx, "greeter", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, fallback.Version())
}

func TestTemplateService_UpdateCannotRename(t *testing.T) {
	svc := newTemplateService()
	ctx := context.Background()
	_, err := svc.Create(ctx, greeter("v1"))
	require.NoError(t, err)

	renamed := greeter("v2")
	renamed.Name = "other"
	_, err = svc.Update(ctx, "greeter", renamed)
	assert.ErrorIs(t, err, flow.ErrTemplateInvalid)

	_, err = svc.Update(ctx, "missing", greeter("v2"))
	assert.ErrorIs(t, err, flow.ErrNotFound)
}

func TestTemplateService_Seed(t *testing.T) {
	svc := newTemplateService()
	ctx := context.Background()
	bundled := []*flow.WorkflowTemplate{templates.MustCustomerSupport(), greeter("hi")}

	n, err := svc.Seed(ctx, bundled)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Seed(ctx, bundled)
	require.NoError(t, err)
	assert.Zero(t, n)

	broken := greeter("hi")
	broken.Name = "broken"
	broken.Edges = nil
	n, err = svc.Seed(ctx, []*flow.WorkflowTemplate{broken})
	assert.ErrorIs(t, err, flow.ErrTemplateInvalid)
	assert.Zero(t, n)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestTemplateService_GraphUnknownTemplate(t *testing.T) {
	_, err := newTemplateService().Graph(context.Background(), "nope", 0)
	assert.ErrorIs(t, err, flow.ErrNotFound)
}
