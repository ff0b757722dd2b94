package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/convograph/internal/flow"
)

// CreateTemplate stores a new template and records it as the first entry of
// its version history. A template with the same name fails with
// flow.ErrAlreadyExists.
func (d *DB) CreateTemplate(ctx context.Context, t *flow.WorkflowTemplate) error {
	defJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO templates (name, version, definition) VALUES ($1, $2, $3)`,
			t.Name, t.Version, defJSON,
		)
		if err != nil {
			return fmt.Errorf("insert template: %w", mapUniqueViolation(err, "template "+t.Name))
		}
		return insertTemplateVersion(ctx, tx, t.Name, t.Version, defJSON)
	})
}

func insertTemplateVersion(ctx context.Context, tx *sql.Tx, name string, version int, defJSON []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO template_versions (name, version, definition) VALUES ($1, $2, $3)
		 ON CONFLICT (name, version) DO UPDATE SET definition = EXCLUDED.definition`,
		name, version, defJSON,
	)
	if err != nil {
		return fmt.Errorf("insert template version: %w", err)
	}
	return nil
}

// GetTemplateVersion retrieves one stored version of a template.
func (d *DB) GetTemplateVersion(ctx context.Context, name string, version int) (*flow.WorkflowTemplate, error) {
	var defJSON []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT definition FROM template_versions WHERE name = $1 AND version = $2`, name, version,
	).Scan(&defJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s version %d: %w", name, version, flow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template version: %w", err)
	}
	var t flow.WorkflowTemplate
	if err := json.Unmarshal(defJSON, &t); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	return &t, nil
}

// GetTemplate retrieves a template by name.
func (d *DB) GetTemplate(ctx context.Context, name string) (*flow.WorkflowTemplate, error) {
	var defJSON []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT definition FROM templates WHERE name = $1`, name,
	).Scan(&defJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", name, flow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	var t flow.WorkflowTemplate
	if err := json.Unmarshal(defJSON, &t); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	return &t, nil
}

// ListTemplates returns all templates ordered by name.
func (d *DB) ListTemplates(ctx context.Context) ([]*flow.WorkflowTemplate, error) {
	rows, err := d.Pool.QueryContext(ctx, `SELECT definition FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var result []*flow.WorkflowTemplate
	for rows.Next() {
		var defJSON []byte
		if err := rows.Scan(&defJSON); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		var t flow.WorkflowTemplate
		if err := json.Unmarshal(defJSON, &t); err != nil {
			return nil, fmt.Errorf("unmarshal template: %w", err)
		}
		result = append(result, &t)
	}
	return result, rows.Err()
}

// UpdateTemplate replaces the current definition of t.Name and adds it to
// the version history. Earlier versions stay readable.
func (d *DB) UpdateTemplate(ctx context.Context, t *flow.WorkflowTemplate) error {
	defJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE templates SET definition = $1, version = $2, updated_at = NOW() WHERE name = $3`,
			defJSON, t.Version, t.Name,
		)
		if err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("template %s: %w", t.Name, flow.ErrNotFound)
		}
		return insertTemplateVersion(ctx, tx, t.Name, t.Version, defJSON)
	})
}

// DeleteTemplate removes a template and its version history.
func (d *DB) DeleteTemplate(ctx context.Context, name string) error {
	res, err := d.Pool.ExecContext(ctx, `DELETE FROM templates WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", name, flow.ErrNotFound)
	}
	return nil
}
