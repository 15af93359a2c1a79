// Package openaicompat implements the llm.Provider contract over the
// openai-go client, grounded directly on the teacher's
// pkg/assistant/openai.go construction (openai.NewClient with
// option.WithAPIKey). Because Cerebras, Groq, and Together all expose
// OpenAI-compatible chat-completions endpoints, the same client — pointed
// at an alternate base URL via option.WithBaseURL — serves every
// OpenAI-shaped fast-brain route named in the external interface (§6).
package openaicompat

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rediai/broker/pkg/provider/llm"
)

// Provider implements llm.Provider over an OpenAI-compatible chat API.
type Provider struct {
	client openai.Client
	model  openai.ChatModel
}

// Option configures Provider construction.
type Option func(*providerConfig)

type providerConfig struct {
	baseURL string
	model   openai.ChatModel
}

// WithBaseURL points the client at an alternate OpenAI-compatible endpoint
// (Cerebras, Groq, Together, etc).
func WithBaseURL(url string) Option {
	return func(c *providerConfig) { c.baseURL = url }
}

// WithModel overrides the default chat model.
func WithModel(model openai.ChatModel) Option {
	return func(c *providerConfig) { c.model = model }
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openaicompat: apiKey must not be empty")
	}
	cfg := providerConfig{model: openai.ChatModelGPT4oMini}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{
		client: openai.NewClient(clientOpts...),
		model:  cfg.model,
	}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msgs = append(msgs, convert(m))
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    p.model,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openaicompat: empty completion")
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func convert(m llm.Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case llm.RoleAssistant:
		return openai.AssistantMessage(m.Text)
	case llm.RoleSystem:
		return openai.SystemMessage(m.Text)
	default:
		return openai.UserMessage(m.Text)
	}
}
