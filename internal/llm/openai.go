package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arborhq/arbor/internal/platform"
)

// OpenAIClient implements Client on the OpenAI chat completions API. A
// non-empty base URL targets any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client *openai.Client
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for the given API key and optional base
// URL.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func openAIMessages(req ChatRequest) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	return messages
}

// Chat runs a blocking completion.
func (c *OpenAIClient) Chat(ctx context.Context, model string, req ChatRequest) (string, platform.Usage, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    openAIMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", platform.Usage{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", platform.Usage{}, fmt.Errorf("openai chat completion: empty choices")
	}

	usage := platform.Usage{
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// Stream runs a streaming completion, emitting token deltas and a final
// usage chunk.
func (c *OpenAIClient) Stream(ctx context.Context, model string, req ChatRequest) (<-chan Chunk, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    openAIMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat stream: %w", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				out <- Chunk{Err: fmt.Errorf("openai stream recv: %w", err)}
				return
			}
			if resp.Usage != nil {
				out <- Chunk{Usage: &platform.Usage{
					TokensIn:  resp.Usage.PromptTokens,
					TokensOut: resp.Usage.CompletionTokens,
				}}
			}
			if len(resp.Choices) > 0 {
				if delta := resp.Choices[0].Delta.Content; delta != "" {
					out <- Chunk{Text: delta}
				}
			}
		}
	}()
	return out, nil
}
