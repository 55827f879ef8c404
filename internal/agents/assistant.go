package agents

import (
	"context"
	"errors"
	"strings"

	"github.com/arborhq/arbor/internal/llm"
	"github.com/arborhq/arbor/internal/platform"
)

const assistantSystemPrompt = `You are a helpful assistant. Answer the user's
message directly and concisely. You see the recent conversation history; stay
consistent with it.`

// assistantHistoryLimit caps how many prior messages go into the prompt.
const assistantHistoryLimit = 20

// AssistantAgent is a general-purpose conversational agent backed by the
// turn's resolved language model, with session history in the prompt.
type AssistantAgent struct{}

var (
	_ Agent    = (*AssistantAgent)(nil)
	_ Streamer = (*AssistantAgent)(nil)
)

func (a *AssistantAgent) Manifest() platform.AgentManifest {
	return platform.AgentManifest{
		Slug:         "assistant",
		Name:         "Assistant",
		Version:      "1.0.0",
		Description:  "General-purpose conversational assistant.",
		Category:     "general",
		Capabilities: []string{platform.CapabilityStreaming},
	}
}

func (a *AssistantAgent) HandleTurn(ctx context.Context, msg *platform.UserMessage, tc *Context) (*platform.AgentResponse, error) {
	if tc.LLM == nil {
		return nil, errors.New("no language model available")
	}

	text, err := tc.LLM.Chat(ctx, llm.ChatRequest{
		Prompt:       a.prompt(ctx, msg, tc),
		SystemPrompt: assistantSystemPrompt,
	})
	if err != nil {
		return nil, err
	}
	return &platform.AgentResponse{Content: text}, nil
}

func (a *AssistantAgent) HandleTurnStream(ctx context.Context, msg *platform.UserMessage, tc *Context, emit func(platform.ResponseChunk)) error {
	if tc.LLM == nil {
		return errors.New("no language model available")
	}

	chunks, err := tc.LLM.Stream(ctx, llm.ChatRequest{
		Prompt:       a.prompt(ctx, msg, tc),
		SystemPrompt: assistantSystemPrompt,
	})
	if err != nil {
		return err
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			return chunk.Err
		}
		emit(platform.ResponseChunk{Content: chunk.Text})
	}

	usage := tc.LLM.LastUsage()
	emit(platform.ResponseChunk{
		IsFinal: true,
		Metadata: map[string]any{
			platform.MetaTokensIn:  usage.TokensIn,
			platform.MetaTokensOut: usage.TokensOut,
		},
	})
	return nil
}

// prompt renders the recent history plus the current message. History
// failures degrade to a single-message prompt.
func (a *AssistantAgent) prompt(ctx context.Context, msg *platform.UserMessage, tc *Context) string {
	var b strings.Builder
	if history, err := tc.Memory.History(ctx, assistantHistoryLimit); err == nil {
		for _, m := range history {
			b.WriteString(string(m.Role))
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("user: ")
	b.WriteString(msg.Content)
	return b.String()
}
