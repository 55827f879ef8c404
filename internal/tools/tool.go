// Package tools provides the registry of pure-function tools exposed to
// agents, with schema validation before every invocation.
package tools

import (
	"context"

	"github.com/arborhq/arbor/internal/platform"
)

// TextCompleter is the minimal LLM surface available to LLM-backed tools.
// Satisfied by the gateway handle bound to the calling agent.
type TextCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Context carries the identity of the turn a tool runs under plus the
// capabilities tools may use. Tools have no other side channels.
type Context struct {
	UserID    string
	AgentSlug string
	LLM       TextCompleter
}

// Tool is the contract every platform tool implements. Execute receives
// parameters already validated against the input schema.
type Tool interface {
	Metadata() platform.ToolMetadata
	Execute(ctx context.Context, params map[string]any, tc Context) (*platform.ToolResult, error)
}

// HealthReporter is optionally implemented by tools with meaningful health
// checks. Tools without it are reported healthy.
type HealthReporter interface {
	Health(ctx context.Context) platform.HealthStatus
}

// ParamValidator is optionally implemented by tools that need validation
// beyond the default required/type checks.
type ParamValidator interface {
	ValidateParams(params map[string]any) error
}
