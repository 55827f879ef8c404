package agents

import (
	"context"
	"errors"

	"github.com/arborhq/arbor/internal/platform"
)

// SummarizerAgent condenses the user's message through the text-summary tool.
type SummarizerAgent struct{}

var _ Agent = (*SummarizerAgent)(nil)

func (a *SummarizerAgent) Manifest() platform.AgentManifest {
	return platform.AgentManifest{
		Slug:          "summarizer",
		Name:          "Summarizer",
		Version:       "1.0.0",
		Description:   "Produces a short summary of the submitted text.",
		Category:      "text",
		RequiredTools: []string{"text-summary"},
	}
}

func (a *SummarizerAgent) HandleTurn(ctx context.Context, msg *platform.UserMessage, tc *Context) (*platform.AgentResponse, error) {
	result := tc.Tools.Execute(ctx, "text-summary", map[string]any{"text": msg.Content})
	if !result.Success {
		return nil, errors.New("summary failed: " + result.Error)
	}

	summary, _ := result.Output["summary"].(string)
	return &platform.AgentResponse{Content: summary}, nil
}
