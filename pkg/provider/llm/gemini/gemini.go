// Package gemini implements the voice brain (the spec's "reserved secondary
// text brain") over the Google Generative AI client, directly adapted from
// the teacher's internal/models/processor/gemini.go GeminiProcessor —
// client construction, model selection, and GenerateContent call shape kept
// intact, retargeted from a JSON-schema processor onto llm.Provider.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/rediai/broker/pkg/provider/llm"
)

const defaultModel = "gemini-1.5-flash"

// Provider implements llm.Provider over Gemini.
type Provider struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// New constructs a Provider. apiKey must be non-empty.
func New(ctx context.Context, apiKey, modelName string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = defaultModel
	}
	return &Provider{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var prompt strings.Builder
	if req.SystemPrompt != "" {
		prompt.WriteString(req.SystemPrompt)
		prompt.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		prompt.WriteString(string(m.Role))
		prompt.WriteString(": ")
		prompt.WriteString(m.Text)
		prompt.WriteString("\n")
	}

	if req.MaxOutputTokens > 0 {
		out := int32(req.MaxOutputTokens)
		p.model.MaxOutputTokens = &out
	}

	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("gemini: no response candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("gemini: empty response")
	}

	usage := llm.CompletionResponse{Text: text.String()}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return &usage, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}
