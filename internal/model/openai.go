// Package model provides LLM interface implementations for various providers.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/convograph/internal/config"
)

var _ adkmodel.LLM = (*OpenAILLM)(nil)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIOption configures an OpenAILLM instance.
type OpenAIOption func(*OpenAILLM)

// WithOpenAIBaseURL sets a custom base URL for the API endpoint.
// This is useful for OpenAI-compatible APIs like Ollama and LM Studio.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *OpenAILLM) {
		o.baseURL = strings.TrimRight(url, "/")
	}
}

// WithOpenAIName sets a custom name for the LLM instance.
func WithOpenAIName(name string) OpenAIOption {
	return func(o *OpenAILLM) {
		o.name = name
	}
}

// WithOpenAIHTTPClient replaces the HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAILLM) {
		o.client = c
	}
}

// OpenAILLM implements the ADK model.LLM interface for the OpenAI Chat
// Completions API. It also works with OpenAI-compatible APIs such as Ollama
// and LM Studio. Only text content is exchanged.
type OpenAILLM struct {
	apiKey  string
	baseURL string
	name    string
	client  *http.Client
}

// NewOpenAILLM creates a new OpenAI LLM adapter.
func NewOpenAILLM(apiKey string, opts ...OpenAIOption) *OpenAILLM {
	llm := &OpenAILLM{
		apiKey:  apiKey,
		baseURL: openaiDefaultBaseURL,
		name:    "openai",
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(llm)
	}
	return llm
}

func init() {
	RegisterProvider("openai", func(name string, cfg config.ProviderConfig) adkmodel.LLM {
		opts := []OpenAIOption{WithOpenAIName(name)}
		if cfg.URL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.URL))
		}
		return NewOpenAILLM(cfg.APIKey, opts...)
	})
}

// Name returns the configured name of this LLM (default "openai").
func (o *OpenAILLM) Name() string {
	return o.name
}

// GenerateContent sends a chat completion request to the OpenAI API and returns
// an iterator that yields exactly one LLMResponse. Streaming is not used.
func (o *OpenAILLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		yield(o.generate(ctx, req))
	}
}

func (o *OpenAILLM) generate(ctx context.Context, req *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	encoded, err := json.Marshal(o.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to read response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: o.name, StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var apiResp openaiChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("openai: failed to unmarshal response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	choice := apiResp.Choices[0]
	content := &genai.Content{Role: genai.RoleModel}
	if choice.Message.Content != "" {
		content.Parts = append(content.Parts, genai.NewPartFromText(choice.Message.Content))
	}
	resp := &adkmodel.LLMResponse{
		Content:      content,
		TurnComplete: true,
	}
	if choice.FinishReason == "length" {
		resp.FinishReason = genai.FinishReasonMaxTokens
	} else {
		resp.FinishReason = genai.FinishReasonStop
	}
	return resp, nil
}

// buildRequestBody converts an LLMRequest into an OpenAI chat completions request body.
func (o *OpenAILLM) buildRequestBody(req *adkmodel.LLMRequest) map[string]any {
	body := map[string]any{
		"model":  req.Model,
		"stream": false,
	}

	var messages []map[string]any

	// Add system instruction as a system message if present.
	if req.Config != nil && req.Config.SystemInstruction != nil {
		if text := extractText(req.Config.SystemInstruction); text != "" {
			messages = append(messages, map[string]any{
				"role":    "system",
				"content": text,
			})
		}
	}

	for _, content := range req.Contents {
		text := extractText(content)
		if text == "" {
			continue
		}
		messages = append(messages, map[string]any{
			"role":    openaiRole(content.Role),
			"content": text,
		})
	}
	body["messages"] = messages

	// Pass through optional generation parameters.
	if req.Config != nil {
		if req.Config.Temperature != nil {
			body["temperature"] = *req.Config.Temperature
		}
		if req.Config.TopP != nil {
			body["top_p"] = *req.Config.TopP
		}
		if req.Config.MaxOutputTokens > 0 {
			body["max_tokens"] = req.Config.MaxOutputTokens
		}
		if len(req.Config.StopSequences) > 0 {
			body["stop"] = req.Config.StopSequences
		}
	}
	return body
}

// extractText joins the text parts of a Content with newlines.
func extractText(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var parts []string
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// openaiRole converts a genai role string to an OpenAI role string.
func openaiRole(role string) string {
	switch role {
	case genai.RoleModel:
		return "assistant"
	case genai.RoleUser:
		return "user"
	default:
		return role
	}
}

// --- OpenAI API types (self-contained, not shared) ---

type openaiChatResponse struct {
	Choices []openaiChoice `json:"choices"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
