package llm

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arborhq/arbor/internal/platform"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient implements Client on the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client for the given API key and optional base
// URL.
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

func anthropicParams(model string, req ChatRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	return params
}

// Chat runs a blocking completion.
func (c *AnthropicClient) Chat(ctx context.Context, model string, req ChatRequest) (string, platform.Usage, error) {
	msg, err := c.client.Messages.New(ctx, anthropicParams(model, req))
	if err != nil {
		return "", platform.Usage{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	usage := platform.Usage{
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
	}
	return text, usage, nil
}

// Stream runs a streaming completion, emitting text deltas and a final usage
// chunk.
func (c *AnthropicClient) Stream(ctx context.Context, model string, req ChatRequest) (<-chan Chunk, error) {
	stream := c.client.Messages.NewStreaming(ctx, anthropicParams(model, req))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic messages stream: %w", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		var usage platform.Usage
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.TokensIn = int(ev.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					out <- Chunk{Text: delta.Text}
				}
			case anthropic.MessageDeltaEvent:
				usage.TokensOut = int(ev.Usage.OutputTokens)
			case anthropic.MessageStopEvent:
				out <- Chunk{Usage: &usage}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Chunk{Err: fmt.Errorf("anthropic stream: %w", err)}
		}
	}()
	return out, nil
}
