// Package completion implements the engine's CompletionProvider on top of
// the configured ADK model adapters.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/flow/ports"
	"github.com/soochol/convograph/internal/llmutil"
)

var _ ports.CompletionProvider = (*Provider)(nil)

const classifierInstruction = "You are a classifier. Reply with ONLY the classification label, no explanation."

// Provider routes completion and classification requests to the LLM named
// by a "provider/model" ID, bounding each call with a timeout and retrying
// transient failures with exponential backoff.
type Provider struct {
	llms            map[string]adkmodel.LLM
	defaultModel    string
	classifierModel string
	timeout         time.Duration
	retry           RetryPolicy
}

type Option func(*Provider)

// WithClassifierModel sets the model used by Classify when the request
// names none. It defaults to the default model.
func WithClassifierModel(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.classifierModel = id
		}
	}
}

// WithTimeout bounds every provider call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(p *Provider) { p.retry = policy }
}

func New(llms map[string]adkmodel.LLM, defaultModel string, opts ...Option) *Provider {
	p := &Provider{
		llms:            llms,
		defaultModel:    defaultModel,
		classifierModel: defaultModel,
		timeout:         60 * time.Second,
		retry:           DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	llm, modelName, err := p.resolve(req.Model, p.defaultModel)
	if err != nil {
		return "", err
	}
	system, contents := toContents(req.SystemPrompt, req.History)
	llmReq := &adkmodel.LLMRequest{
		Model:    modelName,
		Contents: contents,
		Config:   &genai.GenerateContentConfig{},
	}
	if system != "" {
		llmReq.Config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return p.generate(ctx, llm, llmReq)
}

func (p *Provider) Classify(ctx context.Context, req ports.ClassifyRequest) (string, error) {
	llm, modelName, err := p.resolve(req.Model, p.classifierModel)
	if err != nil {
		return "", err
	}
	instruction := classifierInstruction
	if len(req.Labels) > 0 {
		instruction += "\nAllowed labels: " + strings.Join(req.Labels, ", ") + "."
	}
	temperature := float32(0)
	llmReq := &adkmodel.LLMRequest{
		Model: modelName,
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
			Temperature:       &temperature,
		},
		Contents: []*genai.Content{
			genai.NewContentFromText(req.Prompt, genai.RoleUser),
		},
	}
	text, err := p.generate(ctx, llm, llmReq)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// resolve maps a "provider/model" ID onto a configured LLM. A bare provider
// name selects that provider with its default model.
func (p *Provider) resolve(modelID, fallback string) (adkmodel.LLM, string, error) {
	if modelID == "" {
		modelID = fallback
	}
	providerName, modelName, _ := strings.Cut(modelID, "/")
	llm, ok := p.llms[providerName]
	if !ok {
		return nil, "", fmt.Errorf("model %q: unknown provider %q: %w", modelID, providerName, flow.ErrProviderError)
	}
	return llm, modelName, nil
}

func (p *Provider) generate(ctx context.Context, llm adkmodel.LLM, req *adkmodel.LLMRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithBackoff(ctx, p.retry, attempt-1); err != nil {
				break
			}
		}
		text, err := p.call(ctx, llm, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if errors.Is(err, flow.ErrProviderTimeout) || !isRetryable(err) {
			return "", err
		}
		slog.Warn("provider call failed", "provider", llm.Name(), "model", req.Model, "attempt", attempt+1, "err", err)
	}
	return "", lastErr
}

// call performs one provider request under the configured timeout.
func (p *Provider) call(ctx context.Context, llm adkmodel.LLM, req *adkmodel.LLMRequest) (string, error) {
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var resp *adkmodel.LLMResponse
	for r, err := range llm.GenerateContent(callCtx, req, false) {
		if err != nil {
			return "", classifyError(callCtx, llm.Name(), err)
		}
		resp = r
	}
	text := llmutil.ExtractText(resp)
	if text == "" {
		if err := callCtx.Err(); err != nil {
			return "", classifyError(callCtx, llm.Name(), err)
		}
		return "", fmt.Errorf("%s: empty response: %w", llm.Name(), flow.ErrProviderError)
	}
	return text, nil
}

func classifyError(ctx context.Context, provider string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", provider, flow.ErrProviderTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", provider, flow.ErrProviderError, err)
	}
}

// toContents converts the conversation into genai contents. System messages
// are folded into the system prompt.
func toContents(systemPrompt string, history []flow.Message) (string, []*genai.Content) {
	system := []string{}
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	var contents []*genai.Content
	for _, m := range history {
		switch m.Role {
		case flow.RoleSystem:
			system = append(system, m.Content)
		case flow.RoleAgent:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
