package agents

import (
	"context"

	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/llm"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/tools"
)

// maxSubAgentDepth bounds the sub-agent call chain.
const maxSubAgentDepth = 8

// Context is the per-turn capability surface — the only object an agent may
// use beyond its own parameters. Constructed fresh by the engine for every
// turn; agents must not retain references across turns.
type Context struct {
	SessionID   string
	UserID      string
	AgentSlug   string
	WorkspaceID string
	Lang        string

	// LLM is the gateway handle bound to this agent's resolved provider and
	// model. Nil when no provider could be resolved.
	LLM *llm.Handle

	// Tools executes registry tools under this turn's identity.
	Tools *ToolRunner

	// Connectors is the shared connector registry.
	Connectors *connectors.Registry

	// Agents invokes sub-agents under this turn.
	Agents *SubAgents

	// Storage is the prefix-scoped object store view for this user and agent.
	Storage storage.Scoped

	// Memory is the session-bound view over the session store.
	Memory *Memory

	// progress publishes job progress; nil for direct synchronous calls.
	progress func(percent int, message string)

	// Sub-agent call-chain state. chain holds every slug on the path from
	// the root turn to this context, including AgentSlug.
	depth int
	chain map[string]struct{}
}

// SetProgress publishes turn progress on the job bus. No-op when the turn
// does not run under a job.
func (c *Context) SetProgress(percent int, message string) {
	if c.progress != nil {
		c.progress(percent, message)
	}
}

// ToolRunner binds the tool registry to one turn's identity.
type ToolRunner struct {
	registry *tools.Registry
	tc       tools.Context
}

// Execute runs a registry tool with this turn's identity.
func (t *ToolRunner) Execute(ctx context.Context, slug string, params map[string]any) *platform.ToolResult {
	return t.registry.Execute(ctx, slug, params, t.tc)
}

// List returns the metadata of every registered tool.
func (t *ToolRunner) List() []platform.ToolMetadata {
	return t.registry.List()
}

// Memory is a thin read view over the session store bound to one session.
// Appends go through the engine; agents only read history.
type Memory struct {
	store     *session.Store
	sessionID string
}

// History returns the session's messages chronologically. A positive limit
// returns the most recent messages only.
func (m *Memory) History(ctx context.Context, limit int) ([]*session.Message, error) {
	return m.store.GetMessages(ctx, m.sessionID, limit)
}

// Session returns the session record.
func (m *Memory) Session(ctx context.Context) (*session.Session, error) {
	return m.store.GetSession(ctx, m.sessionID)
}

// SubAgents invokes other agents from inside a turn. Calls run under the
// parent pipeline run: the caller's identity and quotas apply, moderation is
// not repeated, and no new job is spawned.
type SubAgents struct {
	engine *Engine
	parent *Context
}

// Execute runs the target agent as a sub-turn. The call chain is bounded:
// exceeding the depth limit or revisiting a slug already on the chain fails
// with CYCLE_DETECTED.
func (s *SubAgents) Execute(ctx context.Context, targetSlug string, msg *platform.UserMessage) *platform.Result {
	if s.parent.depth+1 > maxSubAgentDepth {
		return platform.Failure(platform.ErrCycleDetected, "sub-agent depth limit exceeded")
	}
	if _, onChain := s.parent.chain[targetSlug]; onChain {
		return platform.Failure(platform.ErrCycleDetected, "sub-agent cycle: "+targetSlug+" already on call chain")
	}
	return s.engine.executeSub(ctx, targetSlug, msg, s.parent)
}
