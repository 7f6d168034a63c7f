package llm

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model replies with no candidates
// or an empty candidate. Callers may retry or surface it as-is.
var ErrEmptyResponse = errors.New("llm: model returned an empty response")

// Request is one model call.
type Request struct {
	// Model is the concrete model name (aliases resolved by the caller).
	Model string

	// Temperature in [0, 2]. Zero means the provider default.
	Temperature float32

	// MaxTokens caps the response length. Zero means the provider default.
	MaxTokens int32

	// SystemPrompt is an optional system instruction.
	SystemPrompt string

	// Messages is the ordered transcript, oldest first.
	Messages []Message

	// Tools the model may call. Nil disables function calling.
	Tools []*genai.FunctionDeclaration
}

// Client is the model boundary. Implementations must be safe for
// concurrent use.
type Client interface {
	// Chat performs one blocking model call.
	Chat(ctx context.Context, req Request) (*Turn, error)

	// ChatStream performs one model call, delivering text increments to
	// cb as they arrive, and returns the assembled turn. cb may be nil.
	ChatStream(ctx context.Context, req Request, cb StreamCallback) (*Turn, error)

	// Transcribe converts an audio payload to text.
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)

	// Ping verifies the provider is reachable and credentials work.
	Ping(ctx context.Context) error
}
