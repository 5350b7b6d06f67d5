package nlp

import (
	"context"

	"github.com/soundprediction/anamnesis/pkg/types"
)

// Schema names a JSON schema for structured output. Definition is a
// plain JSON-schema object; the gateway strictens it before sending.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// TokenUsage reports provider-side token accounting when available.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider-neutral result of a chat completion.
type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        *TokenUsage
}

// Client is the language-model gateway contract. Implementations make
// exactly one provider call per method: retry policy belongs to callers,
// not the gateway.
type Client interface {
	// Chat sends a plain chat completion and returns the text response.
	Chat(ctx context.Context, messages []types.Message) (*Response, error)

	// ChatStructured sends a chat completion constrained to the schema
	// and unmarshals the response into out. Responses that cannot be
	// parsed, even after JSON repair, fail with ErrUpstreamProtocol.
	ChatStructured(ctx context.Context, messages []types.Message, schema Schema, out any) (*Response, error)

	// Model reports the model identifier requests are sent to.
	Model() string

	// Close cleans up any resources.
	Close() error
}
