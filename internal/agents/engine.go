package agents

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/llm"
	"github.com/arborhq/arbor/internal/pipeline"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/tools"
)

// sessionTitleLimit caps autogenerated session titles.
const sessionTitleLimit = 60

// Request is one turn submitted to the engine. An empty SessionID creates a
// fresh session; a caller-supplied id is created idempotently when unknown.
type Request struct {
	AgentSlug   string
	UserID      string
	SessionID   string
	WorkspaceID string
	Lang        string
	Message     *platform.UserMessage

	// Progress is wired to the job bus when the turn runs under a job;
	// nil makes SetProgress a no-op.
	Progress func(percent int, message string)
}

// Engine drives turns: it resolves the agent, ensures the session, builds the
// per-turn context, runs the pipeline, and persists the turn's messages.
type Engine struct {
	registry   *Registry
	pipeline   *pipeline.Pipeline
	sessions   *session.Store
	gateway    *llm.Gateway
	tools      *tools.Registry
	connectors *connectors.Registry
	objects    storage.ObjectStore
	bucket     string
	logger     *logger.Logger
}

// NewEngine creates the engine. bucket is the object-store bucket backing
// scoped agent storage.
func NewEngine(registry *Registry, pipe *pipeline.Pipeline, sessions *session.Store, gateway *llm.Gateway, toolReg *tools.Registry, connReg *connectors.Registry, objects storage.ObjectStore, bucket string, log *logger.Logger) *Engine {
	return &Engine{
		registry:   registry,
		pipeline:   pipe,
		sessions:   sessions,
		gateway:    gateway,
		tools:      toolReg,
		connectors: connReg,
		objects:    objects,
		bucket:     bucket,
		logger:     log.WithFields(zap.String("component", "agent_engine")),
	}
}

// Execute runs one synchronous turn end to end.
func (e *Engine) Execute(ctx context.Context, req *Request) *platform.Result {
	agent, tc, result := e.prepare(ctx, req)
	if result != nil {
		return result
	}

	turn := e.turn(req, tc)
	turn.Invoke = func(ctx context.Context) (*platform.AgentResponse, error) {
		response, err := agent.HandleTurn(ctx, turn.Message, tc)
		fillUsage(response, tc.LLM)
		return response, err
	}

	result = e.pipeline.Run(ctx, turn)
	e.persistTurn(ctx, req.SessionID, turn.Message, result)
	return result
}

// ExecuteStream runs one streaming turn, forwarding chunks through emit in
// order. emit is called from the pipeline's goroutine; the result is returned
// after the final chunk.
func (e *Engine) ExecuteStream(ctx context.Context, req *Request, emit func(platform.ResponseChunk)) *platform.Result {
	agent, tc, result := e.prepare(ctx, req)
	if result != nil {
		return result
	}

	turn := e.turn(req, tc)
	turn.Stream = func(ctx context.Context, emit func(platform.ResponseChunk)) error {
		return streamTurn(ctx, agent, turn.Message, tc, emit)
	}

	result = e.pipeline.RunStream(ctx, turn, emit)
	e.persistTurn(ctx, req.SessionID, turn.Message, result)
	return result
}

// prepare resolves the agent, ensures the session, and builds the context.
// A non-nil result is a terminal failure to return as-is. On success
// req.SessionID is set to the effective session id.
func (e *Engine) prepare(ctx context.Context, req *Request) (Agent, *Context, *platform.Result) {
	agent, ok := e.registry.Get(req.AgentSlug)
	if !ok {
		return nil, nil, platform.Failure(platform.ErrAgentNotFound, "no agent registered for slug "+req.AgentSlug)
	}
	if missing := e.registry.MissingDependencies(agent.Manifest()); len(missing) > 0 {
		return nil, nil, platform.Failure(platform.ErrExecution,
			fmt.Sprintf("agent %s has unmet dependencies: %v", req.AgentSlug, missing))
	}

	sess, created, err := e.ensureSession(ctx, req)
	if err != nil {
		e.logger.Error("Session setup failed",
			zap.String("agent_slug", req.AgentSlug), zap.Error(err))
		return nil, nil, platform.Failure(platform.ErrExecution, "session setup failed: "+err.Error())
	}
	req.SessionID = sess.ID

	tc := e.buildContext(ctx, req, 0, map[string]struct{}{req.AgentSlug: {}})
	if created {
		if hooks, ok := agent.(SessionHooks); ok {
			if err := hooks.OnSessionStart(ctx, tc); err != nil {
				e.logger.Warn("Session start hook failed",
					zap.String("agent_slug", req.AgentSlug), zap.Error(err))
			}
		}
	}
	return agent, tc, nil
}

// BuildContext builds the per-turn context for a request. The session must
// already exist.
func (e *Engine) BuildContext(ctx context.Context, req *Request) *Context {
	return e.buildContext(ctx, req, 0, map[string]struct{}{req.AgentSlug: {}})
}

func (e *Engine) buildContext(ctx context.Context, req *Request, depth int, chain map[string]struct{}) *Context {
	tc := &Context{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		AgentSlug:   req.AgentSlug,
		WorkspaceID: req.WorkspaceID,
		Lang:        req.Lang,
		Connectors:  e.connectors,
		Memory:      &Memory{store: e.sessions, sessionID: req.SessionID},
		progress:    req.Progress,
		depth:       depth,
		chain:       chain,
	}
	tc.Agents = &SubAgents{engine: e, parent: tc}

	if req.WorkspaceID != "" {
		tc.Storage = storage.ForWorkspace(e.objects, e.bucket, req.WorkspaceID, req.AgentSlug)
	} else {
		tc.Storage = storage.ForUser(e.objects, e.bucket, req.UserID, req.AgentSlug)
	}

	toolCtx := tools.Context{UserID: req.UserID, AgentSlug: req.AgentSlug}
	if e.gateway != nil {
		handle, err := e.gateway.ForAgent(ctx, req.AgentSlug)
		if err != nil {
			e.logger.Warn("LLM resolution failed, turn runs without a model",
				zap.String("agent_slug", req.AgentSlug), zap.Error(err))
		} else {
			tc.LLM = handle
			toolCtx.LLM = handle
		}
	}
	tc.Tools = &ToolRunner{registry: e.tools, tc: toolCtx}
	return tc
}

// executeSub runs a sub-agent turn under the parent context. No new job, no
// session writes, and no repeated moderation; the caller's identity and
// quotas apply.
func (e *Engine) executeSub(ctx context.Context, targetSlug string, msg *platform.UserMessage, parent *Context) *platform.Result {
	agent, ok := e.registry.Get(targetSlug)
	if !ok {
		return platform.Failure(platform.ErrAgentNotFound, "no agent registered for slug "+targetSlug)
	}
	if missing := e.registry.MissingDependencies(agent.Manifest()); len(missing) > 0 {
		return platform.Failure(platform.ErrExecution,
			fmt.Sprintf("agent %s has unmet dependencies: %v", targetSlug, missing))
	}

	chain := make(map[string]struct{}, len(parent.chain)+1)
	for slug := range parent.chain {
		chain[slug] = struct{}{}
	}
	chain[targetSlug] = struct{}{}

	subReq := &Request{
		AgentSlug:   targetSlug,
		UserID:      parent.UserID,
		SessionID:   parent.SessionID,
		WorkspaceID: parent.WorkspaceID,
		Lang:        parent.Lang,
		Progress:    parent.progress,
	}
	tc := e.buildContext(ctx, subReq, parent.depth+1, chain)

	turn := &pipeline.Turn{
		UserID:         parent.UserID,
		AgentSlug:      targetSlug,
		SessionID:      parent.SessionID,
		Message:        msg,
		SkipModeration: true,
	}
	setAttribution(turn, tc.LLM)
	turn.Invoke = func(ctx context.Context) (*platform.AgentResponse, error) {
		response, err := agent.HandleTurn(ctx, turn.Message, tc)
		fillUsage(response, tc.LLM)
		return response, err
	}
	return e.pipeline.Run(ctx, turn)
}

// CloseSession runs the agent's session-end hook and marks the session
// inactive.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if agent, ok := e.registry.Get(sess.AgentSlug); ok {
		if hooks, ok := agent.(SessionHooks); ok {
			req := &Request{AgentSlug: sess.AgentSlug, UserID: sess.UserID, SessionID: sess.ID}
			if err := hooks.OnSessionEnd(ctx, e.buildContext(ctx, req, 0, map[string]struct{}{sess.AgentSlug: {}})); err != nil {
				e.logger.Warn("Session end hook failed",
					zap.String("agent_slug", sess.AgentSlug), zap.Error(err))
			}
		}
	}
	return e.sessions.CloseSession(ctx, sessionID)
}

func (e *Engine) turn(req *Request, tc *Context) *pipeline.Turn {
	turn := &pipeline.Turn{
		UserID:    req.UserID,
		AgentSlug: req.AgentSlug,
		SessionID: req.SessionID,
		Message:   req.Message,
	}
	setAttribution(turn, tc.LLM)
	return turn
}

func setAttribution(turn *pipeline.Turn, handle *llm.Handle) {
	if handle == nil {
		return
	}
	resolved := handle.Resolved()
	turn.ProviderID = &resolved.Provider.ID
	turn.ModelID = &resolved.Model.ID
}

// ensureSession resolves the request's session, creating one when absent or
// when the caller-supplied id is unknown.
func (e *Engine) ensureSession(ctx context.Context, req *Request) (*session.Session, bool, error) {
	title := sessionTitle(req.Message)
	if req.SessionID == "" {
		sess, err := e.sessions.CreateSession(ctx, req.AgentSlug, req.UserID, title)
		return sess, true, err
	}

	sess, err := e.sessions.GetSession(ctx, req.SessionID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, false, err
	}
	sess, err = e.sessions.CreateSessionWithID(ctx, req.SessionID, req.AgentSlug, req.UserID, title)
	return sess, true, err
}

// persistTurn appends the turn's messages. Turns refused before the agent ran
// (validation, quota, blocked input) leave no trace; failed turns keep the
// user message; blocked output drops the assistant message.
func (e *Engine) persistTurn(ctx context.Context, sessionID string, msg *platform.UserMessage, result *platform.Result) {
	if !result.Success && preFilterCode(result.ErrorCode) {
		return
	}

	user := &session.Message{
		Role:        platform.RoleUser,
		Content:     msg.Content,
		Attachments: msg.Attachments,
		Metadata:    msg.Metadata,
	}
	var assistant *session.Message
	if result.Success && result.Response != nil {
		assistant = &session.Message{
			Role:        platform.RoleAssistant,
			Content:     result.Response.Content,
			Attachments: result.Response.Attachments,
			Metadata:    result.Response.Metadata,
		}
	}

	// The turn's outcome is durable even when its context was canceled.
	if err := e.sessions.AppendTurn(context.WithoutCancel(ctx), sessionID, user, assistant); err != nil {
		e.logger.Error("Turn persistence failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// preFilterCode reports whether the code belongs to a phase that runs before
// the agent; such turns write nothing to the session.
func preFilterCode(code platform.ErrorCode) bool {
	switch code {
	case platform.ErrValidation, platform.ErrQuotaExceeded, platform.ErrModerationBlockedInput,
		platform.ErrAgentNotFound:
		return true
	}
	return false
}

// fillUsage copies the handle's recorded usage into the response metadata
// when the agent did not set token counts itself.
func fillUsage(response *platform.AgentResponse, handle *llm.Handle) {
	if response == nil || handle == nil {
		return
	}
	usage := handle.LastUsage()
	if usage.TokensIn == 0 && usage.TokensOut == 0 {
		return
	}
	if response.Metadata == nil {
		response.Metadata = make(map[string]any)
	}
	if _, ok := response.Metadata[platform.MetaTokensIn]; !ok {
		response.Metadata[platform.MetaTokensIn] = usage.TokensIn
	}
	if _, ok := response.Metadata[platform.MetaTokensOut]; !ok {
		response.Metadata[platform.MetaTokensOut] = usage.TokensOut
	}
}

// sessionTitle derives a title from the first user message.
func sessionTitle(msg *platform.UserMessage) string {
	if msg == nil || msg.Content == "" {
		return "New session"
	}
	title := msg.Content
	if utf8.RuneCountInString(title) > sessionTitleLimit {
		runes := []rune(title)
		title = string(runes[:sessionTitleLimit-1]) + "…"
	}
	return title
}
