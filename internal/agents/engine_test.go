package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/governance"
	"github.com/arborhq/arbor/internal/pipeline"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/tools"
)

type stubAgent struct {
	manifest platform.AgentManifest
	handle   func(ctx context.Context, msg *platform.UserMessage, tc *Context) (*platform.AgentResponse, error)

	sessionStarts int
	sessionEnds   int
}

func (a *stubAgent) Manifest() platform.AgentManifest { return a.manifest }

func (a *stubAgent) HandleTurn(ctx context.Context, msg *platform.UserMessage, tc *Context) (*platform.AgentResponse, error) {
	return a.handle(ctx, msg, tc)
}

func (a *stubAgent) OnSessionStart(context.Context, *Context) error {
	a.sessionStarts++
	return nil
}

func (a *stubAgent) OnSessionEnd(context.Context, *Context) error {
	a.sessionEnds++
	return nil
}

type allowQuota struct{}

func (allowQuota) Check(context.Context, string, string) (governance.QuotaDecision, error) {
	return governance.QuotaDecision{Allowed: true}, nil
}

type denyQuota struct{}

func (denyQuota) Check(context.Context, string, string) (governance.QuotaDecision, error) {
	return governance.QuotaDecision{Allowed: false, Reason: "daily"}, nil
}

// blockOutModeration blocks every response while passing every input.
type blockOutModeration struct{}

func (blockOutModeration) FilterIn(context.Context, string, string) (governance.Verdict, error) {
	return governance.Verdict{}, nil
}

func (blockOutModeration) FilterOut(context.Context, string, string) (governance.Verdict, error) {
	return governance.Verdict{Blocked: true, Reason: "listed term"}, nil
}

type engineFixture struct {
	engine   *Engine
	registry *Registry
	sessions *session.Store
	objects  *storage.MemoryStore
}

func newEngineFixture(t *testing.T, moderation governance.Moderation, quota governance.QuotaService) *engineFixture {
	t.Helper()
	if moderation == nil {
		moderation = governance.NoopModeration{}
	}
	if quota == nil {
		quota = allowQuota{}
	}

	log := logger.Default()
	pool := db.OpenSQLiteMemory(t)

	repo, err := session.NewRepository(pool)
	require.NoError(t, err)
	sessions := session.NewStore(repo, nil)

	consumption, err := governance.ProvideConsumption(pool)
	require.NoError(t, err)

	toolReg := tools.NewRegistry(log)
	tools.RegisterBuiltins(toolReg)
	connReg := connectors.NewRegistry(log)
	connectors.RegisterBuiltins(connReg, log)

	catalog, err := NewCatalog(pool)
	require.NoError(t, err)
	registry := NewRegistry(toolReg, connReg, catalog, log)
	RegisterBuiltins(context.Background(), registry)

	objects := storage.NewMemoryStore()
	pipe := pipeline.New(moderation, quota, consumption, log)

	return &engineFixture{
		engine:   NewEngine(registry, pipe, sessions, nil, toolReg, connReg, objects, "storage", log),
		registry: registry,
		sessions: sessions,
		objects:  objects,
	}
}

func turnRequest(content string) *Request {
	return &Request{
		AgentSlug: "echo",
		UserID:    "user-1",
		Message:   &platform.UserMessage{Content: content},
	}
}

func TestExecuteEchoTurn(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	req := turnRequest("hi")

	result := f.engine.Execute(context.Background(), req)

	require.True(t, result.Success)
	assert.Equal(t, "you said: hi", result.Response.Content)

	messages, err := f.sessions.GetMessages(context.Background(), req.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, platform.RoleUser, messages[0].Role)
	assert.Equal(t, "hi", messages[0].Content)
	assert.Equal(t, platform.RoleAssistant, messages[1].Role)
	assert.Equal(t, "you said: hi", messages[1].Content)
}

func TestExecuteQuotaDeniedLeavesNoMessages(t *testing.T) {
	f := newEngineFixture(t, nil, denyQuota{})
	req := turnRequest("hi")

	result := f.engine.Execute(context.Background(), req)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrQuotaExceeded, result.ErrorCode)

	messages, err := f.sessions.GetMessages(context.Background(), req.SessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestExecuteAgentNotFound(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	req := turnRequest("hi")
	req.AgentSlug = "missing"

	result := f.engine.Execute(context.Background(), req)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrAgentNotFound, result.ErrorCode)
}

func TestExecuteUnmetDependencies(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	f.registry.Register(context.Background(), &stubAgent{
		manifest: platform.AgentManifest{
			Slug:          "needy",
			Name:          "Needy",
			Version:       "1.0.0",
			RequiredTools: []string{"no-such-tool"},
		},
		handle: func(context.Context, *platform.UserMessage, *Context) (*platform.AgentResponse, error) {
			return &platform.AgentResponse{Content: "never"}, nil
		},
	})

	req := turnRequest("hi")
	req.AgentSlug = "needy"
	result := f.engine.Execute(context.Background(), req)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrExecution, result.ErrorCode)
	assert.Contains(t, result.Error, "no-such-tool")
}

func TestExecuteInputBlockedLeavesNoMessages(t *testing.T) {
	f := newEngineFixture(t, governance.NewWordlistModeration("forbidden"), nil)
	req := turnRequest("this is forbidden content")

	result := f.engine.Execute(context.Background(), req)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrModerationBlockedInput, result.ErrorCode)

	messages, err := f.sessions.GetMessages(context.Background(), req.SessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestExecuteAgentErrorKeepsUserMessage(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	f.registry.Register(context.Background(), &stubAgent{
		manifest: platform.AgentManifest{Slug: "faulty", Name: "Faulty", Version: "1.0.0"},
		handle: func(context.Context, *platform.UserMessage, *Context) (*platform.AgentResponse, error) {
			return nil, errors.New("boom")
		},
	})

	req := turnRequest("hi")
	req.AgentSlug = "faulty"
	result := f.engine.Execute(context.Background(), req)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrExecution, result.ErrorCode)

	messages, err := f.sessions.GetMessages(context.Background(), req.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, platform.RoleUser, messages[0].Role)
}

func TestExecuteOutputBlockedDropsAssistantMessage(t *testing.T) {
	f := newEngineFixture(t, blockOutModeration{}, nil)
	req := turnRequest("hi")

	result := f.engine.Execute(context.Background(), req)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrModerationBlockedOutput, result.ErrorCode)

	messages, err := f.sessions.GetMessages(context.Background(), req.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, platform.RoleUser, messages[0].Role)
}

func TestExecuteStreamAdaptsNonStreamer(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	req := turnRequest("hi")

	var chunks []platform.ResponseChunk
	result := f.engine.ExecuteStream(context.Background(), req, func(c platform.ResponseChunk) {
		chunks = append(chunks, c)
	})

	require.True(t, result.Success)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsFinal)
	assert.Equal(t, "you said: hi", chunks[0].Content)

	messages, err := f.sessions.GetMessages(context.Background(), req.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestExecuteReusesSuppliedSession(t *testing.T) {
	f := newEngineFixture(t, nil, nil)

	req1 := turnRequest("first")
	req1.SessionID = "session-1"
	require.True(t, f.engine.Execute(context.Background(), req1).Success)

	req2 := turnRequest("second")
	req2.SessionID = "session-1"
	require.True(t, f.engine.Execute(context.Background(), req2).Success)

	messages, err := f.sessions.GetMessages(context.Background(), "session-1", 0)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestExecuteAutogeneratesSessionTitle(t *testing.T) {
	f := newEngineFixture(t, nil, nil)

	long := strings.Repeat("words and more ", 20)
	req := turnRequest(long)
	require.True(t, f.engine.Execute(context.Background(), req).Success)

	sess, err := f.sessions.GetSession(context.Background(), req.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Title)
	assert.LessOrEqual(t, len([]rune(sess.Title)), sessionTitleLimit)
}

func TestSubAgentExecute(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	f.registry.Register(context.Background(), &stubAgent{
		manifest: platform.AgentManifest{Slug: "delegator", Name: "Delegator", Version: "1.0.0"},
		handle: func(ctx context.Context, msg *platform.UserMessage, tc *Context) (*platform.AgentResponse, error) {
			sub := tc.Agents.Execute(ctx, "echo", &platform.UserMessage{Content: msg.Content})
			if !sub.Success {
				return nil, errors.New(sub.Error)
			}
			return &platform.AgentResponse{Content: "delegated: " + sub.Response.Content}, nil
		},
	})

	req := turnRequest("hi")
	req.AgentSlug = "delegator"
	result := f.engine.Execute(context.Background(), req)

	require.True(t, result.Success)
	assert.Equal(t, "delegated: you said: hi", result.Response.Content)

	// The sub-turn writes no messages of its own.
	messages, err := f.sessions.GetMessages(context.Background(), req.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestSubAgentSelfCycleDetected(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	f.registry.Register(context.Background(), &stubAgent{
		manifest: platform.AgentManifest{Slug: "looper", Name: "Looper", Version: "1.0.0"},
		handle: func(ctx context.Context, msg *platform.UserMessage, tc *Context) (*platform.AgentResponse, error) {
			sub := tc.Agents.Execute(ctx, "looper", msg)
			if !sub.Success {
				return nil, errors.New(string(sub.ErrorCode) + ": " + sub.Error)
			}
			return sub.Response, nil
		},
	})

	req := turnRequest("go")
	req.AgentSlug = "looper"
	result := f.engine.Execute(context.Background(), req)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, string(platform.ErrCycleDetected))
}

func TestSubAgentDepthLimit(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	parent := &Context{
		UserID:    "user-1",
		AgentSlug: "deep",
		depth:     maxSubAgentDepth,
		chain:     map[string]struct{}{"deep": {}},
	}
	parent.Agents = &SubAgents{engine: f.engine, parent: parent}

	result := parent.Agents.Execute(context.Background(), "echo", &platform.UserMessage{Content: "hi"})

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrCycleDetected, result.ErrorCode)
}

func TestAgentStorageTraversalRejected(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	f.registry.Register(context.Background(), &stubAgent{
		manifest: platform.AgentManifest{Slug: "sneaky", Name: "Sneaky", Version: "1.0.0"},
		handle: func(ctx context.Context, _ *platform.UserMessage, tc *Context) (*platform.AgentResponse, error) {
			if err := tc.Storage.Put(ctx, "../secret.txt", []byte("x"), "text/plain"); err != nil {
				return nil, err
			}
			return &platform.AgentResponse{Content: "stored"}, nil
		},
	})

	req := turnRequest("hi")
	req.AgentSlug = "sneaky"
	result := f.engine.Execute(context.Background(), req)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrExecution, result.ErrorCode)
	assert.Empty(t, f.objects.Keys("storage"), "no object may escape the agent prefix")
}

func TestSessionHooks(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	agent := &stubAgent{
		manifest: platform.AgentManifest{Slug: "hooked", Name: "Hooked", Version: "1.0.0"},
		handle: func(context.Context, *platform.UserMessage, *Context) (*platform.AgentResponse, error) {
			return &platform.AgentResponse{Content: "ok"}, nil
		},
	}
	f.registry.Register(context.Background(), agent)

	req := turnRequest("hi")
	req.AgentSlug = "hooked"
	require.True(t, f.engine.Execute(context.Background(), req).Success)
	assert.Equal(t, 1, agent.sessionStarts)

	// A second turn on the same session does not re-fire the start hook.
	req2 := turnRequest("again")
	req2.AgentSlug = "hooked"
	req2.SessionID = req.SessionID
	require.True(t, f.engine.Execute(context.Background(), req2).Success)
	assert.Equal(t, 1, agent.sessionStarts)

	require.NoError(t, f.engine.CloseSession(context.Background(), req.SessionID))
	assert.Equal(t, 1, agent.sessionEnds)

	sess, err := f.sessions.GetSession(context.Background(), req.SessionID)
	require.NoError(t, err)
	assert.False(t, sess.IsActive)
}

func TestRegistryDuplicateReplacesAndCatalogPersists(t *testing.T) {
	f := newEngineFixture(t, nil, nil)

	replacement := &stubAgent{
		manifest: platform.AgentManifest{Slug: "echo", Name: "Echo v2", Version: "2.0.0"},
		handle: func(context.Context, *platform.UserMessage, *Context) (*platform.AgentResponse, error) {
			return &platform.AgentResponse{Content: "v2"}, nil
		},
	}
	f.registry.Register(context.Background(), replacement)

	agent, ok := f.registry.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", agent.Manifest().Version)

	rows, err := f.registry.catalog.List(context.Background())
	require.NoError(t, err)
	var found bool
	for _, row := range rows {
		if row.Slug == "echo" {
			found = true
			assert.Equal(t, "2.0.0", row.Version)
		}
	}
	assert.True(t, found)
}
