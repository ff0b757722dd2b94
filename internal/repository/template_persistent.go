package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soochol/convograph/internal/flow"
)

// PersistentTemplateRepository wraps MemoryTemplateRepository with a
// PostgreSQL backend. Writes go to the database first and then the cache.
// Reads try memory first; on miss, fall back to DB and cache.
type PersistentTemplateRepository struct {
	mem *MemoryTemplateRepository
	db  TemplateDB
}

func NewPersistentTemplateRepository(mem *MemoryTemplateRepository, db TemplateDB) *PersistentTemplateRepository {
	return &PersistentTemplateRepository{mem: mem, db: db}
}

func (r *PersistentTemplateRepository) Create(ctx context.Context, t *flow.WorkflowTemplate) error {
	if err := r.db.CreateTemplate(ctx, t); err != nil {
		return err
	}
	r.mem.put(ctx, t)
	return nil
}

func (r *PersistentTemplateRepository) Get(ctx context.Context, name string) (*flow.WorkflowTemplate, error) {
	if t, err := r.mem.Get(ctx, name); err == nil {
		return t, nil
	}
	t, err := r.db.GetTemplate(ctx, name)
	if err != nil {
		return nil, err
	}
	r.mem.put(ctx, t)
	return t, nil
}

func (r *PersistentTemplateRepository) GetVersion(ctx context.Context, name string, version int) (*flow.WorkflowTemplate, error) {
	if t, err := r.mem.GetVersion(ctx, name, version); err == nil {
		return t, nil
	}
	t, err := r.db.GetTemplateVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}
	r.mem.putVersion(ctx, t)
	return t, nil
}

func (r *PersistentTemplateRepository) List(ctx context.Context) ([]*flow.WorkflowTemplate, error) {
	// Prefer DB for durable listing.
	list, err := r.db.ListTemplates(ctx)
	if err == nil {
		return list, nil
	}
	slog.Warn("db list templates failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentTemplateRepository) Update(ctx context.Context, t *flow.WorkflowTemplate) error {
	if err := r.db.UpdateTemplate(ctx, t); err != nil {
		return err
	}
	r.mem.put(ctx, t)
	return nil
}

func (r *PersistentTemplateRepository) Delete(ctx context.Context, name string) error {
	memErr := r.mem.Delete(ctx, name)
	if err := r.db.DeleteTemplate(ctx, name); err != nil {
		if errors.Is(err, flow.ErrNotFound) && memErr == nil {
			slog.Warn("template was cached but missing in db", "name", name)
			return nil
		}
		return err
	}
	return nil
}
