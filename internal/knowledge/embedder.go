package knowledge

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// Embedder turns texts into fixed-size vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GenAIEmbedder computes embeddings with the Gemini embedding models.
type GenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int32

	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGenAIEmbedder(apiKey, model string, dimensions int) *GenAIEmbedder {
	return &GenAIEmbedder{apiKey: apiKey, model: model, dimensions: int32(dimensions)}
}

func (e *GenAIEmbedder) ensureClient(ctx context.Context) error {
	e.once.Do(func() {
		e.client, e.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  e.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return e.initErr
}

func (e *GenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.ensureClient(ctx); err != nil {
		return nil, fmt.Errorf("genai embedder: client init failed: %w", err)
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{}
	if e.dimensions > 0 {
		cfg.OutputDimensionality = &e.dimensions
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai embedder: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai embedder: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}
