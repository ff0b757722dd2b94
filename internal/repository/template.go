// Package repository defines storage for templates and conversation threads,
// in memory or backed by PostgreSQL.
package repository

import (
	"context"

	"github.com/soochol/convograph/internal/flow"
)

// TemplateRepository abstracts template persistence so callers don't
// need to know whether storage is in-memory, PostgreSQL, or a mix.
type TemplateRepository interface {
	Create(ctx context.Context, t *flow.WorkflowTemplate) error
	Get(ctx context.Context, name string) (*flow.WorkflowTemplate, error)
	// GetVersion returns a version written by Create or Update. Versions
	// disappear only with their template.
	GetVersion(ctx context.Context, name string, version int) (*flow.WorkflowTemplate, error)
	List(ctx context.Context) ([]*flow.WorkflowTemplate, error)
	Update(ctx context.Context, t *flow.WorkflowTemplate) error
	Delete(ctx context.Context, name string) error
}

// TemplateDB defines the DB-layer methods needed by the persistent template
// repo. *db.DB satisfies this interface.
type TemplateDB interface {
	CreateTemplate(ctx context.Context, t *flow.WorkflowTemplate) error
	GetTemplate(ctx context.Context, name string) (*flow.WorkflowTemplate, error)
	GetTemplateVersion(ctx context.Context, name string, version int) (*flow.WorkflowTemplate, error)
	ListTemplates(ctx context.Context) ([]*flow.WorkflowTemplate, error)
	UpdateTemplate(ctx context.Context, t *flow.WorkflowTemplate) error
	DeleteTemplate(ctx context.Context, name string) error
}
