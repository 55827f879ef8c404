package agents

import "context"

// RegisterBuiltins registers the agents shipped with the platform.
func RegisterBuiltins(ctx context.Context, r *Registry) {
	r.Register(ctx, &EchoAgent{})
	r.Register(ctx, &AssistantAgent{})
	r.Register(ctx, &SummarizerAgent{})
	r.Register(ctx, &ResearcherAgent{})
}
