// Package knowledge stores documents with their embeddings in PostgreSQL
// (pgvector) and serves similarity search to agent nodes.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soochol/convograph/internal/flow/ports"
)

var _ ports.Retriever = (*Store)(nil)

const defaultTopK = 3

// Store is a pgvector-backed document collection.
type Store struct {
	pool       *pgxpool.Pool
	embedder   Embedder
	dimensions int
}

func New(pool *pgxpool.Pool, embedder Embedder, dimensions int) *Store {
	return &Store{pool: pool, embedder: embedder, dimensions: dimensions}
}

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string, embedder Embedder, dimensions int) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open knowledge database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping knowledge database: %w", err)
	}
	return New(pool, embedder, dimensions), nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the vector extension and the documents table.
func (s *Store) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS knowledge_documents (
    id         TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    content    TEXT NOT NULL,
    metadata   JSONB NOT NULL DEFAULT '{}',
    embedding  vector(%d) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_documents_collection ON knowledge_documents(collection);
`, s.dimensions)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("migrate knowledge store: %w", err)
	}
	return nil
}

// Retrieve returns the k documents of collection closest to query by cosine
// distance. Score is the cosine similarity.
func (s *Store) Retrieve(ctx context.Context, collection, query string, k int) ([]ports.Document, error) {
	if k <= 0 {
		k = defaultTopK
	}
	vectors, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
		 FROM knowledge_documents
		 WHERE collection = $2
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`,
		vectorLiteral(vectors[0]), collection, k)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var docs []ports.Document
	for rows.Next() {
		var d ports.Document
		var meta []byte
		if err := rows.Scan(&d.ID, &d.Content, &meta, &d.Score); err != nil {
			return nil, fmt.Errorf("scan knowledge document: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &d.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", d.ID, err)
			}
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Ingest embeds and upserts docs into collection, returning their ids.
// Documents without an id get a generated one.
func (s *Store) Ingest(ctx context.Context, collection string, docs []ports.Document) ([]string, error) {
	if collection == "" {
		return nil, errors.New("collection is required")
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			return nil, fmt.Errorf("document %d: content is required", i)
		}
		texts[i] = d.Content
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i, d := range docs {
			id := d.ID
			if id == "" {
				id = uuid.NewString()
			}
			meta, err := json.Marshal(d.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata of document %d: %w", i, err)
			}
			if d.Metadata == nil {
				meta = []byte("{}")
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO knowledge_documents (id, collection, content, metadata, embedding)
				 VALUES ($1, $2, $3, $4::jsonb, $5::vector)
				 ON CONFLICT (id) DO UPDATE SET
				   collection = EXCLUDED.collection,
				   content = EXCLUDED.content,
				   metadata = EXCLUDED.metadata,
				   embedding = EXCLUDED.embedding`,
				id, collection, d.Content, string(meta), vectorLiteral(vectors[i]))
			if err != nil {
				return fmt.Errorf("insert document %s: %w", id, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest into %s: %w", collection, err)
	}
	return ids, nil
}

func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if s.dimensions > 0 && len(v) != s.dimensions {
			return nil, fmt.Errorf("embed: vector %d has %d dimensions, want %d", i, len(v), s.dimensions)
		}
	}
	return vectors, nil
}

// vectorLiteral formats v in pgvector's text representation.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
