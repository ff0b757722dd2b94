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

// Compile-time interface compliance check.
var _ adkmodel.LLM = (*AnthropicLLM)(nil)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 4096
)

// AnthropicOption configures an AnthropicLLM.
type AnthropicOption func(*AnthropicLLM)

// WithAnthropicBaseURL sets the base URL for the Anthropic API.
// Useful for testing with httptest.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(a *AnthropicLLM) {
		a.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAnthropicName sets the provider name reported by Name.
func WithAnthropicName(name string) AnthropicOption {
	return func(a *AnthropicLLM) {
		a.name = name
	}
}

// AnthropicLLM implements the ADK model.LLM interface for the Anthropic Messages API.
type AnthropicLLM struct {
	apiKey  string
	baseURL string
	name    string
	client  *http.Client
}

// NewAnthropicLLM creates a new AnthropicLLM with the given API key and options.
func NewAnthropicLLM(apiKey string, opts ...AnthropicOption) *AnthropicLLM {
	a := &AnthropicLLM{
		apiKey:  apiKey,
		baseURL: defaultAnthropicBaseURL,
		name:    "anthropic",
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func init() {
	RegisterProvider("anthropic", func(name string, cfg config.ProviderConfig) adkmodel.LLM {
		opts := []AnthropicOption{WithAnthropicName(name)}
		if cfg.URL != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.URL))
		}
		return NewAnthropicLLM(cfg.APIKey, opts...)
	})
}

func (a *AnthropicLLM) Name() string {
	return a.name
}

// GenerateContent converts genai.Content to the Anthropic API format, calls the API,
// and converts the response back to genai.Content. The stream parameter is accepted
// for interface compliance but streaming is not implemented.
func (a *AnthropicLLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		resp, err := a.generate(ctx, req)
		yield(resp, err)
	}
}

// generate performs a synchronous call to the Anthropic Messages API.
func (a *AnthropicLLM) generate(ctx context.Context, req *adkmodel.LLMRequest) (*adkmodel.LLMResponse, error) {
	jsonData, err := json.Marshal(a.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Provider: a.name, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var apiResp anthropicAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return a.convertResponse(&apiResp), nil
}

// buildRequestBody converts an LLMRequest into the Anthropic API request body.
// Consecutive turns of the same role are merged, since the Messages API
// expects user and assistant turns to alternate.
func (a *AnthropicLLM) buildRequestBody(req *adkmodel.LLMRequest) map[string]any {
	var messages []map[string]any
	for _, content := range req.Contents {
		text := extractText(content)
		if text == "" {
			continue
		}
		role := "user"
		if content.Role == genai.RoleModel {
			role = "assistant"
		}
		if n := len(messages); n > 0 && messages[n-1]["role"] == role {
			messages[n-1]["content"] = messages[n-1]["content"].(string) + "\n\n" + text
			continue
		}
		messages = append(messages, map[string]any{
			"role":    role,
			"content": text,
		})
	}

	maxTokens := int32(defaultMaxTokens)
	if req.Config != nil && req.Config.MaxOutputTokens > 0 {
		maxTokens = req.Config.MaxOutputTokens
	}

	body := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if req.Config != nil {
		if system := extractText(req.Config.SystemInstruction); system != "" {
			body["system"] = system
		}
		if req.Config.Temperature != nil {
			body["temperature"] = *req.Config.Temperature
		}
		if len(req.Config.StopSequences) > 0 {
			body["stop_sequences"] = req.Config.StopSequences
		}
	}
	return body
}

// convertResponse converts an Anthropic API response to an ADK LLMResponse.
func (a *AnthropicLLM) convertResponse(apiResp *anthropicAPIResponse) *adkmodel.LLMResponse {
	var parts []*genai.Part
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			parts = append(parts, genai.NewPartFromText(block.Text))
		}
	}

	llmResp := &adkmodel.LLMResponse{
		Content: &genai.Content{
			Role:  genai.RoleModel,
			Parts: parts,
		},
		TurnComplete: true,
	}

	// Map Anthropic stop_reason to genai.FinishReason
	switch apiResp.StopReason {
	case "end_turn", "stop_sequence":
		llmResp.FinishReason = genai.FinishReasonStop
	case "max_tokens":
		llmResp.FinishReason = genai.FinishReasonMaxTokens
	}
	return llmResp
}

// Anthropic API response types

type anthropicAPIResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
