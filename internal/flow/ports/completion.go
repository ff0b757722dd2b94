package ports

import (
	"context"

	"github.com/soochol/convograph/internal/flow"
)

// CompletionRequest asks a provider for the next agent turn.
type CompletionRequest struct {
	// Model is a "provider/model" ID. Empty selects the configured default.
	Model        string
	SystemPrompt string
	History      []flow.Message
}

// ClassifyRequest asks a provider to map text onto one of Labels.
type ClassifyRequest struct {
	Model  string
	Prompt string
	Labels []string
}

// CompletionProvider is the engine's only view of the LLM providers.
// Implementations return errors wrapping flow.ErrProviderTimeout or
// flow.ErrProviderError.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Classify(ctx context.Context, req ClassifyRequest) (string, error)
}

// Document is a knowledge snippet returned by a Retriever.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever performs similarity search over a knowledge collection.
type Retriever interface {
	Retrieve(ctx context.Context, collection, query string, k int) ([]Document, error)
}
