package knowledge

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/soochol/convograph/internal/flow/ports"
)

// keywordEmbedder maps texts onto a 3-dimensional space by keyword.
type keywordEmbedder struct {
	err error
}

func (e keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := []float32{0.01, 0.01, 0.01}
		switch {
		case strings.Contains(text, "refund"):
			v[0] = 1
		case strings.Contains(text, "shipping"):
			v[1] = 1
		default:
			v[2] = 1
		}
		out[i] = v
	}
	return out, nil
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", vectorLiteral(nil))
	assert.Equal(t, "[1,0.5,-2.25]", vectorLiteral([]float32{1, 0.5, -2.25}))
}

func TestRetrieve_RejectsWrongDimensions(t *testing.T) {
	s := New(nil, keywordEmbedder{}, 768)
	_, err := s.Retrieve(context.Background(), "faq", "refund", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 3 dimensions, want 768")
}

func TestRetrieve_EmbedderFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	s := New(nil, keywordEmbedder{err: boom}, 3)
	_, err := s.Retrieve(context.Background(), "faq", "refund", 3)
	require.ErrorIs(t, err, boom)
}

func TestIngest_Validation(t *testing.T) {
	s := New(nil, keywordEmbedder{}, 3)
	_, err := s.Ingest(context.Background(), "", []ports.Document{{Content: "x"}})
	require.Error(t, err)
	_, err = s.Ingest(context.Background(), "faq", []ports.Document{{Content: "  "}})
	require.Error(t, err)
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() || os.Getenv("CONVOGRAPH_INTEGRATION") == "" {
		t.Skip("set CONVOGRAPH_INTEGRATION to run against a pgvector container")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("knowledge"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	s := New(pool, keywordEmbedder{}, 3)
	require.NoError(t, s.Migrate(ctx))

	ids, err := s.Ingest(ctx, "faq", []ports.Document{
		{ID: "refunds", Content: "refund policy: 30 days", Metadata: map[string]any{"source": "handbook"}},
		{Content: "shipping takes 3 days"},
		{Content: "office hours are 9 to 5"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, "refunds", ids[0])
	assert.NotEmpty(t, ids[1])

	_, err = s.Ingest(ctx, "other", []ports.Document{{Content: "refund for other tenant"}})
	require.NoError(t, err)

	docs, err := s.Retrieve(ctx, "faq", "how do refund requests work?", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "refunds", docs[0].ID)
	assert.Equal(t, "handbook", docs[0].Metadata["source"])
	assert.Greater(t, docs[0].Score, docs[1].Score)

	// Re-ingesting an id replaces the document.
	_, err = s.Ingest(ctx, "faq", []ports.Document{{ID: "refunds", Content: "refund policy: 14 days"}})
	require.NoError(t, err)
	docs, err = s.Retrieve(ctx, "faq", "refund", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "refund policy: 14 days", docs[0].Content)
}
