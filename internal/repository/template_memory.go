package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/soochol/convograph/internal/flow"
	memstore "github.com/soochol/convograph/internal/repository/memory"
)

// MemoryTemplateRepository is a thread-safe in-memory TemplateRepository.
// Stored templates are copies; callers may keep mutating theirs.
type MemoryTemplateRepository struct {
	store    *memstore.Store[*flow.WorkflowTemplate]
	versions *memstore.Store[*flow.WorkflowTemplate]
}

func NewMemoryTemplateRepository() *MemoryTemplateRepository {
	return &MemoryTemplateRepository{
		store: memstore.New(func(t *flow.WorkflowTemplate) string { return t.Name }),
		versions: memstore.New(func(t *flow.WorkflowTemplate) string {
			return versionKey(t.Name, t.Version)
		}),
	}
}

func versionKey(name string, version int) string {
	return fmt.Sprintf("%s@%d", name, version)
}

func (r *MemoryTemplateRepository) Create(ctx context.Context, t *flow.WorkflowTemplate) error {
	err := r.store.Update(ctx, t.Name, func(_ *flow.WorkflowTemplate, exists bool) (*flow.WorkflowTemplate, error) {
		if exists {
			return nil, fmt.Errorf("template %s: %w", t.Name, flow.ErrAlreadyExists)
		}
		return t.Clone(), nil
	})
	if err != nil {
		return err
	}
	r.putVersion(ctx, t)
	return nil
}

// put stores t as current and as a version regardless of whether it
// exists. Used to warm the cache.
func (r *MemoryTemplateRepository) put(ctx context.Context, t *flow.WorkflowTemplate) {
	_ = r.store.Set(ctx, t.Clone())
	r.putVersion(ctx, t)
}

func (r *MemoryTemplateRepository) putVersion(ctx context.Context, t *flow.WorkflowTemplate) {
	_ = r.versions.Set(ctx, t.Clone())
}

func (r *MemoryTemplateRepository) GetVersion(ctx context.Context, name string, version int) (*flow.WorkflowTemplate, error) {
	t, err := r.versions.Get(ctx, versionKey(name, version))
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("template %s version %d: %w", name, version, flow.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (r *MemoryTemplateRepository) Get(ctx context.Context, name string) (*flow.WorkflowTemplate, error) {
	t, err := r.store.Get(ctx, name)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("template %s: %w", name, flow.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (r *MemoryTemplateRepository) List(ctx context.Context) ([]*flow.WorkflowTemplate, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*flow.WorkflowTemplate, len(all))
	for i, t := range all {
		out[i] = t.Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryTemplateRepository) Update(ctx context.Context, t *flow.WorkflowTemplate) error {
	err := r.store.Update(ctx, t.Name, func(_ *flow.WorkflowTemplate, exists bool) (*flow.WorkflowTemplate, error) {
		if !exists {
			return nil, fmt.Errorf("template %s: %w", t.Name, flow.ErrNotFound)
		}
		return t.Clone(), nil
	})
	if err != nil {
		return err
	}
	r.putVersion(ctx, t)
	return nil
}

// Delete removes a template and its version history.
func (r *MemoryTemplateRepository) Delete(ctx context.Context, name string) error {
	if err := r.store.Delete(ctx, name); errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("template %s: %w", name, flow.ErrNotFound)
	}
	all, _ := r.versions.All(ctx)
	for _, v := range all {
		if v.Name == name {
			_ = r.versions.Delete(ctx, versionKey(v.Name, v.Version))
		}
	}
	return nil
}
