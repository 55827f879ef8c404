// Package llm resolves which provider and model serve an agent and exposes
// chat and streaming calls with token usage accounting.
package llm

import (
	"context"

	"github.com/arborhq/arbor/internal/platform"
)

// ChatRequest is one chat or stream invocation.
type ChatRequest struct {
	Prompt       string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// Chunk is one streamed fragment. Usage, when set, carries the final token
// counts; Err terminates the stream.
type Chunk struct {
	Text  string
	Usage *platform.Usage
	Err   error
}

// Client is a provider-specific chat client. Implementations: Anthropic
// Messages, OpenAI chat completions (and OpenAI-compatible endpoints).
type Client interface {
	// Chat runs a blocking completion and returns the full text plus usage.
	Chat(ctx context.Context, model string, req ChatRequest) (string, platform.Usage, error)

	// Stream runs a streaming completion. The returned channel is closed
	// after the final chunk; a chunk with Err set ends the stream early.
	Stream(ctx context.Context, model string, req ChatRequest) (<-chan Chunk, error)
}
