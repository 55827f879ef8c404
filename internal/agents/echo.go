package agents

import (
	"context"

	"github.com/arborhq/arbor/internal/platform"
)

// EchoAgent repeats the user's message back. Useful as a liveness probe and
// as the minimal end-to-end exercise of the pipeline.
type EchoAgent struct{}

var _ Agent = (*EchoAgent)(nil)

func (a *EchoAgent) Manifest() platform.AgentManifest {
	return platform.AgentManifest{
		Slug:        "echo",
		Name:        "Echo",
		Version:     "1.0.0",
		Description: "Repeats the user's message back.",
		Category:    "utility",
	}
}

func (a *EchoAgent) HandleTurn(_ context.Context, msg *platform.UserMessage, _ *Context) (*platform.AgentResponse, error) {
	return &platform.AgentResponse{Content: "you said: " + msg.Content}, nil
}
