// Package llm defines the LLM provider contract shared by the fast, deep,
// and voice brains. The shape is grounded on MrWong99-glyphoxa's
// pkg/provider/llm (Complete/StreamCompletion/Capabilities) merged with the
// teacher's pkg/assistant.Assistant naming, extended with an image-injection
// field for the frame-freshness protocol (§4.8).
package llm

import "context"

// Role mirrors the teacher's pkg/assistant Role enum.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageInput is an inline image to inject alongside a user turn, per the
// injection format of §4.8: a short textual preamble plus the image as an
// inline data URI with JPEG media type.
type ImageInput struct {
	MediaType string // e.g. "image/jpeg"
	Base64    string // whitespace-stripped base64 payload
}

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role  Role
	Text  string
	Image *ImageInput // non-nil only on the turn the frame is injected into
}

// CompletionRequest is one LLM call.
type CompletionRequest struct {
	Messages        []Message
	MaxOutputTokens int
	SystemPrompt    string
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is a single LLM pipeline (fast, deep, or voice).
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
