package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/soochol/convograph/internal/flow"
)

// Thread state is stored without its messages; the messages table is the
// single record of the conversation and is joined back on load.

// CreateThread inserts a new thread together with its initial messages.
func (d *DB) CreateThread(ctx context.Context, s *flow.ConversationState) error {
	stateJSON, err := marshalState(s)
	if err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO threads (id, template, status, version, state, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.ThreadID, s.Template, string(s.Status), s.Version, stateJSON, s.CreatedAt, s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert thread: %w", mapUniqueViolation(err, "thread "+s.ThreadID))
		}
		return insertMessages(ctx, tx, s.ThreadID, s.Messages)
	})
}

// CommitThread saves s and appends msgs in one transaction, provided the
// stored version still equals expectedVersion. The stored version becomes
// expectedVersion+1.
func (d *DB) CommitThread(ctx context.Context, s *flow.ConversationState, expectedVersion int64, msgs []flow.Message) error {
	next := *s
	next.Version = expectedVersion + 1
	stateJSON, err := marshalState(&next)
	if err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE threads SET status = $1, version = $2, state = $3, updated_at = $4
			 WHERE id = $5 AND version = $6`,
			string(next.Status), next.Version, stateJSON, next.UpdatedAt, next.ThreadID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM threads WHERE id = $1)`, next.ThreadID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check thread: %w", err)
			}
			if !exists {
				return fmt.Errorf("thread %s: %w", next.ThreadID, flow.ErrNotFound)
			}
			return fmt.Errorf("thread %s at version %d: %w", next.ThreadID, expectedVersion, flow.ErrVersionConflict)
		}
		return insertMessages(ctx, tx, next.ThreadID, msgs)
	})
}

// GetThread loads a thread and its full message log.
func (d *DB) GetThread(ctx context.Context, id string) (*flow.ConversationState, error) {
	var stateJSON []byte
	err := d.Pool.QueryRowContext(ctx, `SELECT state FROM threads WHERE id = $1`, id).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, flow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	var s flow.ConversationState
	if err := json.Unmarshal(stateJSON, &s); err != nil {
		return nil, fmt.Errorf("unmarshal thread: %w", err)
	}
	msgs, err := d.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Messages = msgs
	return &s, nil
}

// ListThreads returns the threads matching f, newest first, without their
// messages, and the total number of matches.
func (d *DB) ListThreads(ctx context.Context, f flow.ThreadFilter) ([]*flow.ConversationState, int, error) {
	where, args := threadWhere(f)

	var total int
	if err := d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count threads: %w", err)
	}

	query := `SELECT state FROM threads` + where + ` ORDER BY updated_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var result []*flow.ConversationState
	for rows.Next() {
		var stateJSON []byte
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, 0, fmt.Errorf("scan thread: %w", err)
		}
		var s flow.ConversationState
		if err := json.Unmarshal(stateJSON, &s); err != nil {
			return nil, 0, fmt.Errorf("unmarshal thread: %w", err)
		}
		result = append(result, &s)
	}
	return result, total, rows.Err()
}

func threadWhere(f flow.ThreadFilter) (string, []any) {
	var conds []string
	var args []any
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Template != "" {
		args = append(args, f.Template)
		conds = append(conds, fmt.Sprintf("template = $%d", len(args)))
	}
	if !f.UpdatedBefore.IsZero() {
		args = append(args, f.UpdatedBefore)
		conds = append(conds, fmt.Sprintf("updated_at < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// DeleteThread removes a thread and its messages.
func (d *DB) DeleteThread(ctx context.Context, id string) error {
	res, err := d.Pool.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread %s: %w", id, flow.ErrNotFound)
	}
	return nil
}

// AppendMessages adds msgs to the log of an existing thread without
// touching its state.
func (d *DB) AppendMessages(ctx context.Context, threadID string, msgs []flow.Message) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM threads WHERE id = $1)`, threadID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check thread: %w", err)
		}
		if !exists {
			return fmt.Errorf("thread %s: %w", threadID, flow.ErrNotFound)
		}
		return insertMessages(ctx, tx, threadID, msgs)
	})
}

// ListMessages returns the message log of a thread in append order.
func (d *DB) ListMessages(ctx context.Context, threadID string) ([]flow.Message, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT role, node_id, content, created_at FROM messages WHERE thread_id = $1 ORDER BY id`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []flow.Message
	for rows.Next() {
		var m flow.Message
		var role string
		if err := rows.Scan(&role, &m.NodeID, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = flow.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func insertMessages(ctx context.Context, tx *sql.Tx, threadID string, msgs []flow.Message) error {
	for _, m := range msgs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (thread_id, role, node_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			threadID, string(m.Role), m.NodeID, m.Content, m.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func marshalState(s *flow.ConversationState) ([]byte, error) {
	stripped := *s
	stripped.Messages = nil
	b, err := json.Marshal(&stripped)
	if err != nil {
		return nil, fmt.Errorf("marshal thread: %w", err)
	}
	return b, nil
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
