// Package agents holds the agent contract, the registry of installed agents,
// the per-turn context, and the engine that drives turns through the
// execution pipeline.
package agents

import (
	"context"

	"github.com/arborhq/arbor/internal/platform"
)

// Agent is the contract every platform agent implements. Manifest must be
// pure and cheap; HandleTurn must not leave background work running after it
// returns.
type Agent interface {
	Manifest() platform.AgentManifest
	HandleTurn(ctx context.Context, msg *platform.UserMessage, tc *Context) (*platform.AgentResponse, error)
}

// Streamer is optionally implemented by agents that produce incremental
// output. The last emitted chunk must have IsFinal set; chunks before it must
// not.
type Streamer interface {
	HandleTurnStream(ctx context.Context, msg *platform.UserMessage, tc *Context, emit func(platform.ResponseChunk)) error
}

// SessionHooks is optionally implemented by agents that react to session
// lifecycle. Hook errors are logged, never fatal.
type SessionHooks interface {
	OnSessionStart(ctx context.Context, tc *Context) error
	OnSessionEnd(ctx context.Context, tc *Context) error
}

// streamTurn runs the agent's streaming turn, adapting HandleTurn into a
// single final chunk when the agent does not implement Streamer.
func streamTurn(ctx context.Context, agent Agent, msg *platform.UserMessage, tc *Context, emit func(platform.ResponseChunk)) error {
	if s, ok := agent.(Streamer); ok {
		return s.HandleTurnStream(ctx, msg, tc, emit)
	}
	response, err := agent.HandleTurn(ctx, msg, tc)
	if err != nil {
		return err
	}
	if response == nil {
		response = &platform.AgentResponse{}
	}
	emit(platform.ResponseChunk{Content: response.Content, IsFinal: true, Metadata: response.Metadata})
	return nil
}
