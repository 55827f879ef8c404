package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/governance"
	"github.com/arborhq/arbor/internal/platform"
)

type stubModeration struct {
	inVerdict  governance.Verdict
	outVerdict governance.Verdict
	inErr      error
	outErr     error
	lastInput  string
	lastOutput string
}

func (m *stubModeration) FilterIn(_ context.Context, content, _ string) (governance.Verdict, error) {
	m.lastInput = content
	return m.inVerdict, m.inErr
}

func (m *stubModeration) FilterOut(_ context.Context, content, _ string) (governance.Verdict, error) {
	m.lastOutput = content
	return m.outVerdict, m.outErr
}

type stubQuota struct {
	decision governance.QuotaDecision
	err      error
}

func (q *stubQuota) Check(context.Context, string, string) (governance.QuotaDecision, error) {
	return q.decision, q.err
}

type stubConsumption struct {
	records []governance.ConsumptionRecord
	err     error
}

func (c *stubConsumption) Record(_ context.Context, rec governance.ConsumptionRecord) error {
	c.records = append(c.records, rec)
	return c.err
}

type fixture struct {
	pipeline    *Pipeline
	moderation  *stubModeration
	quota       *stubQuota
	consumption *stubConsumption
}

func newFixture() *fixture {
	f := &fixture{
		moderation:  &stubModeration{},
		quota:       &stubQuota{decision: governance.QuotaDecision{Allowed: true}},
		consumption: &stubConsumption{},
	}
	f.pipeline = New(f.moderation, f.quota, f.consumption, logger.Default())
	return f
}

func echoTurn(content string) *Turn {
	return &Turn{
		UserID:    "user-1",
		AgentSlug: "echo",
		Message:   &platform.UserMessage{Content: content},
		Invoke: func(context.Context) (*platform.AgentResponse, error) {
			return &platform.AgentResponse{Content: "you said: " + content}, nil
		},
	}
}

func TestRunSimpleTurn(t *testing.T) {
	f := newFixture()

	result := f.pipeline.Run(context.Background(), echoTurn("hi"))

	require.True(t, result.Success)
	assert.Equal(t, "you said: hi", result.Response.Content)
	assert.GreaterOrEqual(t, result.DurationMS, int64(0))
}

func TestRunValidation(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name    string
		message *platform.UserMessage
		wantOK  bool
	}{
		{"empty content no attachments", &platform.UserMessage{}, false},
		{"empty content with attachment", &platform.UserMessage{
			Attachments: []platform.Attachment{{Name: "a.txt", StorageKey: "a.txt"}},
		}, true},
		{"content at limit", &platform.UserMessage{
			Content: strings.Repeat("é", platform.MaxContentLength),
		}, true},
		{"content over limit", &platform.UserMessage{
			Content: strings.Repeat("é", platform.MaxContentLength+1),
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := &Turn{
				UserID:    "user-1",
				AgentSlug: "echo",
				Message:   tt.message,
				Invoke: func(context.Context) (*platform.AgentResponse, error) {
					return &platform.AgentResponse{Content: "ok"}, nil
				},
			}
			result := f.pipeline.Run(context.Background(), turn)
			if tt.wantOK {
				assert.True(t, result.Success)
			} else {
				assert.False(t, result.Success)
				assert.Equal(t, platform.ErrValidation, result.ErrorCode)
			}
		})
	}
}

func TestRunQuotaDenied(t *testing.T) {
	f := newFixture()
	f.quota.decision = governance.QuotaDecision{Allowed: false, Reason: "daily"}

	invoked := false
	turn := echoTurn("hi")
	turn.Invoke = func(context.Context) (*platform.AgentResponse, error) {
		invoked = true
		return nil, nil
	}

	result := f.pipeline.Run(context.Background(), turn)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrQuotaExceeded, result.ErrorCode)
	assert.Equal(t, "daily", result.Error)
	assert.False(t, invoked, "agent must not run after quota denial")
}

func TestRunInputModeration(t *testing.T) {
	t.Run("blocked", func(t *testing.T) {
		f := newFixture()
		f.moderation.inVerdict = governance.Verdict{Blocked: true, Reason: "listed term"}

		result := f.pipeline.Run(context.Background(), echoTurn("bad"))

		assert.False(t, result.Success)
		assert.Equal(t, platform.ErrModerationBlockedInput, result.ErrorCode)
	})

	t.Run("replacement reaches agent", func(t *testing.T) {
		f := newFixture()
		f.moderation.inVerdict = governance.Verdict{Replacement: "filtered"}

		result := f.pipeline.Run(context.Background(), echoTurn("raw"))

		require.True(t, result.Success)
		assert.Equal(t, "you said: filtered", result.Response.Content)
	})
}

func TestRunOutputModeration(t *testing.T) {
	t.Run("blocked", func(t *testing.T) {
		f := newFixture()
		f.moderation.outVerdict = governance.Verdict{Blocked: true, Reason: "listed term"}

		result := f.pipeline.Run(context.Background(), echoTurn("hi"))

		assert.False(t, result.Success)
		assert.Equal(t, platform.ErrModerationBlockedOutput, result.ErrorCode)
		assert.Equal(t, "you said: hi", f.moderation.lastOutput)
	})

	t.Run("rewrite", func(t *testing.T) {
		f := newFixture()
		f.moderation.outVerdict = governance.Verdict{Replacement: "[redacted]"}

		result := f.pipeline.Run(context.Background(), echoTurn("hi"))

		require.True(t, result.Success)
		assert.Equal(t, "[redacted]", result.Response.Content)
	})
}

func TestRunSkipModeration(t *testing.T) {
	f := newFixture()
	f.moderation.inVerdict = governance.Verdict{Blocked: true}
	f.moderation.outVerdict = governance.Verdict{Blocked: true}

	turn := echoTurn("hi")
	turn.SkipModeration = true

	result := f.pipeline.Run(context.Background(), turn)
	assert.True(t, result.Success)
}

func TestRunCollaboratorsFailOpen(t *testing.T) {
	f := newFixture()
	f.quota.err = errors.New("quota backend down")
	f.moderation.inErr = errors.New("moderation backend down")
	f.moderation.outErr = errors.New("moderation backend down")
	f.consumption.err = errors.New("consumption backend down")

	result := f.pipeline.Run(context.Background(), echoTurn("hi"))

	require.True(t, result.Success)
	assert.Equal(t, "you said: hi", result.Response.Content)
}

func TestRunAgentError(t *testing.T) {
	f := newFixture()
	turn := echoTurn("hi")
	turn.Invoke = func(context.Context) (*platform.AgentResponse, error) {
		return nil, errors.New("boom")
	}

	result := f.pipeline.Run(context.Background(), turn)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrExecution, result.ErrorCode)
	assert.Equal(t, "boom", result.Error)
}

func TestRunAgentPanic(t *testing.T) {
	f := newFixture()
	turn := echoTurn("hi")
	turn.Invoke = func(context.Context) (*platform.AgentResponse, error) {
		panic("unexpected state")
	}

	result := f.pipeline.Run(context.Background(), turn)

	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrExecution, result.ErrorCode)
	assert.Contains(t, result.Error, "unexpected state")
}

func TestRunCancellation(t *testing.T) {
	f := newFixture()

	t.Run("canceled", func(t *testing.T) {
		turn := echoTurn("hi")
		turn.Invoke = func(ctx context.Context) (*platform.AgentResponse, error) {
			return nil, context.Canceled
		}
		result := f.pipeline.Run(context.Background(), turn)
		assert.Equal(t, platform.ErrCanceled, result.ErrorCode)
	})

	t.Run("deadline", func(t *testing.T) {
		turn := echoTurn("hi")
		turn.Invoke = func(ctx context.Context) (*platform.AgentResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, time.Millisecond)
			defer cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}
		result := f.pipeline.Run(context.Background(), turn)
		assert.Equal(t, platform.ErrTimeout, result.ErrorCode)
	})
}

func TestRunRecordsConsumption(t *testing.T) {
	f := newFixture()
	turn := echoTurn("hi")
	turn.ProviderID = int64Ptr(1)
	turn.ModelID = int64Ptr(2)
	turn.Invoke = func(context.Context) (*platform.AgentResponse, error) {
		return &platform.AgentResponse{
			Content: "ok",
			Metadata: map[string]any{
				platform.MetaTokensIn:  12,
				platform.MetaTokensOut: float64(34), // JSON round trip shape
			},
		}, nil
	}

	result := f.pipeline.Run(context.Background(), turn)

	require.True(t, result.Success)
	assert.Equal(t, 12, result.TokensIn)
	assert.Equal(t, 34, result.TokensOut)
	require.Len(t, f.consumption.records, 1)
	rec := f.consumption.records[0]
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, 12, rec.TokensIn)
	assert.Equal(t, 34, rec.TokensOut)
	require.NotNil(t, rec.ProviderID)
	assert.Equal(t, int64(1), *rec.ProviderID)
}

func TestRunStreamForwardsChunks(t *testing.T) {
	f := newFixture()
	turn := &Turn{
		UserID:    "user-1",
		AgentSlug: "counter",
		Message:   &platform.UserMessage{Content: "count"},
		Stream: func(_ context.Context, emit func(platform.ResponseChunk)) error {
			emit(platform.ResponseChunk{Content: "1"})
			emit(platform.ResponseChunk{Content: "2"})
			emit(platform.ResponseChunk{Content: "3"})
			emit(platform.ResponseChunk{IsFinal: true})
			return nil
		},
	}

	var chunks []platform.ResponseChunk
	result := f.pipeline.RunStream(context.Background(), turn, func(c platform.ResponseChunk) {
		chunks = append(chunks, c)
	})

	require.True(t, result.Success)
	assert.Equal(t, "123", result.Response.Content)
	require.Len(t, chunks, 4)
	assert.Equal(t, "1", chunks[0].Content)
	assert.False(t, chunks[0].IsFinal)
	assert.True(t, chunks[3].IsFinal)
}

func TestRunStreamOutputBlockSupersedesSuccess(t *testing.T) {
	f := newFixture()
	f.moderation.outVerdict = governance.Verdict{Blocked: true, Reason: "listed term"}

	turn := &Turn{
		UserID:    "user-1",
		AgentSlug: "counter",
		Message:   &platform.UserMessage{Content: "count"},
		Stream: func(_ context.Context, emit func(platform.ResponseChunk)) error {
			emit(platform.ResponseChunk{Content: "leaky"})
			emit(platform.ResponseChunk{IsFinal: true, Metadata: map[string]any{
				platform.MetaTokensIn:  5,
				platform.MetaTokensOut: 7,
			}})
			return nil
		},
	}

	var delivered int
	result := f.pipeline.RunStream(context.Background(), turn, func(platform.ResponseChunk) {
		delivered++
	})

	// The client already received the chunks; only the terminal record flips.
	assert.Equal(t, 2, delivered)
	assert.False(t, result.Success)
	assert.Equal(t, platform.ErrModerationBlockedOutput, result.ErrorCode)
	assert.Equal(t, "leaky", f.moderation.lastOutput)

	// Tokens were spent and are still accounted.
	require.Len(t, f.consumption.records, 1)
	assert.Equal(t, 5, f.consumption.records[0].TokensIn)
	assert.Equal(t, 7, f.consumption.records[0].TokensOut)
}

func int64Ptr(v int64) *int64 { return &v }
