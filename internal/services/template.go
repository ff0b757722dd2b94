package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/graph"
	"github.com/soochol/convograph/internal/repository"
)

// TemplateService validates and stores workflow templates and hands out
// compiled graphs, cached per name and version.
type TemplateService struct {
	repo       repository.TemplateRepository
	toolExists func(name string) bool

	mu     sync.RWMutex
	graphs map[string]*graph.Graph
}

// NewTemplateService creates a TemplateService. toolExists, when non-nil,
// makes validation reject tool nodes naming an unregistered tool.
func NewTemplateService(repo repository.TemplateRepository, toolExists func(name string) bool) *TemplateService {
	return &TemplateService{
		repo:       repo,
		toolExists: toolExists,
		graphs:     make(map[string]*graph.Graph),
	}
}

// Validate compiles tpl without storing it.
func (s *TemplateService) Validate(tpl *flow.WorkflowTemplate) (*graph.Graph, error) {
	var opts []graph.Option
	if s.toolExists != nil {
		opts = append(opts, graph.WithToolLookup(s.toolExists))
	}
	return graph.Compile(tpl, opts...)
}

// Create validates and stores a new template. A missing version becomes 1.
func (s *TemplateService) Create(ctx context.Context, tpl *flow.WorkflowTemplate) (*flow.WorkflowTemplate, error) {
	tpl = tpl.Clone()
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	g, err := s.Validate(tpl)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, err
	}
	s.cache(g)
	slog.Info("template created", "name", tpl.Name, "version", tpl.Version)
	return tpl, nil
}

// Update replaces the template called name and bumps its version. Threads
// already running keep the version they started with.
func (s *TemplateService) Update(ctx context.Context, name string, tpl *flow.WorkflowTemplate) (*flow.WorkflowTemplate, error) {
	if tpl.Name != "" && tpl.Name != name {
		return nil, &flow.TemplateError{Template: name, Problems: []string{
			fmt.Sprintf("name %q does not match %q; templates cannot be renamed", tpl.Name, name),
		}}
	}
	current, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	tpl = tpl.Clone()
	tpl.Name = name
	tpl.Version = current.Version + 1
	g, err := s.Validate(tpl)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, tpl); err != nil {
		return nil, err
	}
	s.cache(g)
	slog.Info("template updated", "name", name, "version", tpl.Version)
	return tpl, nil
}

func (s *TemplateService) Get(ctx context.Context, name string) (*flow.WorkflowTemplate, error) {
	return s.repo.Get(ctx, name)
}

func (s *TemplateService) List(ctx context.Context) ([]*flow.WorkflowTemplate, error) {
	return s.repo.List(ctx)
}

func (s *TemplateService) Delete(ctx context.Context, name string) error {
	return s.repo.Delete(ctx, name)
}

// Seed stores tpls that are not stored yet. Invalid templates fail the whole
// call before anything is written.
func (s *TemplateService) Seed(ctx context.Context, tpls []*flow.WorkflowTemplate) (int, error) {
	for _, tpl := range tpls {
		if _, err := s.Validate(tpl); err != nil {
			return 0, err
		}
	}
	created := 0
	for _, tpl := range tpls {
		_, err := s.Create(ctx, tpl)
		switch {
		case err == nil:
			created++
		case errors.Is(err, flow.ErrAlreadyExists):
			slog.Debug("template already stored", "name", tpl.Name)
		default:
			return created, fmt.Errorf("seed template %s: %w", tpl.Name, err)
		}
	}
	return created, nil
}

// Graph returns the compiled graph of template name at version. When that
// version is not stored the current one is used. Version 0 selects the
// current version.
func (s *TemplateService) Graph(ctx context.Context, name string, version int) (*graph.Graph, error) {
	if version > 0 {
		s.mu.RLock()
		g, ok := s.graphs[graphKey(name, version)]
		s.mu.RUnlock()
		if ok {
			return g, nil
		}
		tpl, err := s.repo.GetVersion(ctx, name, version)
		switch {
		case err == nil:
			if g, err = s.Validate(tpl); err != nil {
				return nil, err
			}
			s.cache(g)
			return g, nil
		case !errors.Is(err, flow.ErrNotFound):
			return nil, err
		}
	}

	tpl, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	g, ok := s.graphs[graphKey(tpl.Name, tpl.Version)]
	s.mu.RUnlock()
	if !ok {
		if g, err = s.Validate(tpl); err != nil {
			return nil, err
		}
		s.cache(g)
	}
	if version > 0 && version != tpl.Version {
		slog.Warn("template version unavailable, using current", "name", name, "wanted", version, "current", tpl.Version)
	}
	return g, nil
}

func (s *TemplateService) cache(g *graph.Graph) {
	s.mu.Lock()
	s.graphs[graphKey(g.Name(), g.Version())] = g
	s.mu.Unlock()
}

func graphKey(name string, version int) string {
	return fmt.Sprintf("%s@%d", name, version)
}
