// Package anthropic implements the deep/vision brain over the Anthropic
// Messages API. There is no teacher usage to ground this on directly — the
// teacher only ever called Gemini and OpenAI — so this is grounded on the
// real anthropic-sdk-go dependency present in the broader example pack
// (iamprashant-voice-ai's go.mod) and exists specifically to receive the
// image content blocks the frame-freshness protocol (§4.8) injects.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rediai/broker/pkg/provider/llm"
)

// Provider implements llm.Provider over Claude, injecting an inline image
// content block on whichever turn carries a fresh frame.
type Provider struct {
	client anthropic.Client
	model  anthropic.Model
}

// Option configures Provider construction.
type Option func(*providerConfig)

type providerConfig struct {
	model anthropic.Model
}

// WithModel overrides the default model.
func WithModel(model anthropic.Model) Option {
	return func(c *providerConfig) { c.model = model }
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: apiKey must not be empty")
	}
	cfg := providerConfig{model: anthropic.ModelClaude3_5HaikuLatest}
	for _, o := range opts {
		o(&cfg)
	}
	return &Provider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  cfg.model,
	}, nil
}

// Complete implements llm.Provider. Base64 image payloads are stripped of
// whitespace before injection, per §4.8.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			continue // system goes in the top-level System field below
		}
		messages = append(messages, toAnthropicMessage(m))
	}

	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 300
	}

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant := block.AsAny(); variant != nil {
			if t, ok := variant.(anthropic.TextBlock); ok {
				text.WriteString(t.Text)
			}
		}
	}

	return &llm.CompletionResponse{
		Text:         text.String(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func toAnthropicMessage(m llm.Message) anthropic.MessageParam {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)}
	if m.Image != nil {
		cleaned := stripWhitespace(m.Image.Base64)
		blocks = append(blocks, anthropic.NewImageBlockBase64(m.Image.MediaType, cleaned))
	}

	if m.Role == llm.RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
