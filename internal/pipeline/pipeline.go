// Package pipeline wraps every agent turn in the fixed phase sequence:
// validation, quota, input moderation, invocation, output moderation,
// consumption accounting. Agents cannot opt out of any phase.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/governance"
	"github.com/arborhq/arbor/internal/platform"
)

// Turn is one pipeline run. The engine builds it: the closures bind the agent
// and its per-turn context, the ids attribute governance decisions.
type Turn struct {
	UserID    string
	AgentSlug string
	SessionID string

	// Message is mutated in place when input moderation substitutes a
	// replacement, so the closures see the filtered content.
	Message *platform.UserMessage

	// ProviderID and ModelID attribute consumption records when LLM
	// resolution succeeded.
	ProviderID *int64
	ModelID    *int64

	// SkipModeration is set for sub-agent turns: the parent run already owns
	// moderation. Validation and quota still apply.
	SkipModeration bool

	// Invoke runs the agent's synchronous turn.
	Invoke func(ctx context.Context) (*platform.AgentResponse, error)

	// Stream runs the agent's streaming turn, pushing chunks through emit.
	// Required for RunStream; ignored by Run.
	Stream func(ctx context.Context, emit func(platform.ResponseChunk)) error
}

// Pipeline executes turns. Collaborator failures are fail-open: a governance
// outage is logged and the turn proceeds.
type Pipeline struct {
	moderation  governance.Moderation
	quota       governance.QuotaService
	consumption governance.ConsumptionService
	logger      *logger.Logger
}

// New creates the pipeline.
func New(moderation governance.Moderation, quota governance.QuotaService, consumption governance.ConsumptionService, log *logger.Logger) *Pipeline {
	return &Pipeline{
		moderation:  moderation,
		quota:       quota,
		consumption: consumption,
		logger:      log.WithFields(zap.String("component", "pipeline")),
	}
}

// Run executes a synchronous turn.
func (p *Pipeline) Run(ctx context.Context, turn *Turn) *platform.Result {
	start := time.Now()
	result := p.run(ctx, turn, nil)
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

// RunStream executes a streaming turn, forwarding chunks through emit as they
// arrive. Output moderation runs over the accumulated text after completion;
// a blocked verdict supersedes success even though the caller already saw the
// stream.
func (p *Pipeline) RunStream(ctx context.Context, turn *Turn, emit func(platform.ResponseChunk)) *platform.Result {
	start := time.Now()
	result := p.run(ctx, turn, emit)
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

func (p *Pipeline) run(ctx context.Context, turn *Turn, emit func(platform.ResponseChunk)) *platform.Result {
	// Phase 1: input validation.
	if msg := validate(turn.Message); msg != "" {
		return platform.Failure(platform.ErrValidation, msg)
	}

	// Phase 2: quota.
	if decision, err := p.quota.Check(ctx, turn.UserID, turn.AgentSlug); err != nil {
		p.logger.Warn("Quota check failed, allowing turn",
			zap.String("agent_slug", turn.AgentSlug), zap.Error(err))
	} else if !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = "quota exceeded"
		}
		return platform.Failure(platform.ErrQuotaExceeded, reason)
	}

	// Phase 3: input moderation.
	if !turn.SkipModeration {
		verdict, err := p.moderation.FilterIn(ctx, turn.Message.Content, turn.AgentSlug)
		switch {
		case err != nil:
			p.logger.Warn("Input moderation failed, allowing turn",
				zap.String("agent_slug", turn.AgentSlug), zap.Error(err))
		case verdict.Blocked:
			reason := verdict.Reason
			if reason == "" {
				reason = "input blocked by moderation"
			}
			return platform.Failure(platform.ErrModerationBlockedInput, reason)
		case verdict.Replacement != "":
			turn.Message.Content = verdict.Replacement
		}
	}

	// Phase 4: agent invocation.
	response, err := p.invoke(ctx, turn, emit)
	if err != nil {
		return p.failed(turn, err)
	}
	if response == nil {
		response = &platform.AgentResponse{}
	}

	tokensIn := metaInt(response.Metadata, platform.MetaTokensIn)
	tokensOut := metaInt(response.Metadata, platform.MetaTokensOut)

	// Phase 5: output moderation.
	var blockedReason string
	if !turn.SkipModeration {
		verdict, err := p.moderation.FilterOut(ctx, response.Content, turn.AgentSlug)
		switch {
		case err != nil:
			p.logger.Warn("Output moderation failed, passing response",
				zap.String("agent_slug", turn.AgentSlug), zap.Error(err))
		case verdict.Blocked:
			blockedReason = verdict.Reason
			if blockedReason == "" {
				blockedReason = "output blocked by moderation"
			}
		case verdict.Replacement != "" && emit == nil:
			// A streamed response was already delivered; rewriting applies
			// to the synchronous path only.
			response.Content = verdict.Replacement
		}
	}

	// Phase 6: consumption. Tokens were spent regardless of the output
	// verdict, so a blocked response is still accounted.
	if tokensIn > 0 || tokensOut > 0 {
		rec := governance.ConsumptionRecord{
			UserID:     turn.UserID,
			AgentSlug:  turn.AgentSlug,
			ProviderID: turn.ProviderID,
			ModelID:    turn.ModelID,
			TokensIn:   tokensIn,
			TokensOut:  tokensOut,
		}
		if err := p.consumption.Record(ctx, rec); err != nil {
			p.logger.Warn("Consumption recording failed",
				zap.String("agent_slug", turn.AgentSlug), zap.Error(err))
		}
	}

	// Phase 7: result.
	if blockedReason != "" {
		result := platform.Failure(platform.ErrModerationBlockedOutput, blockedReason)
		result.TokensIn = tokensIn
		result.TokensOut = tokensOut
		return result
	}
	return &platform.Result{
		Success:   true,
		Response:  response,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	}
}

// invoke runs the agent closure with panic containment. For streaming turns
// the emitted chunks are accumulated into the response the later phases see.
func (p *Pipeline) invoke(ctx context.Context, turn *Turn, emit func(platform.ResponseChunk)) (response *platform.AgentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Agent panicked",
				zap.String("agent_slug", turn.AgentSlug), zap.Any("panic", r))
			response = nil
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()

	if emit == nil {
		return turn.Invoke(ctx)
	}

	var accumulated strings.Builder
	var finalMeta map[string]any
	wrapped := func(chunk platform.ResponseChunk) {
		accumulated.WriteString(chunk.Content)
		if chunk.IsFinal {
			finalMeta = chunk.Metadata
		}
		emit(chunk)
	}
	if err := turn.Stream(ctx, wrapped); err != nil {
		return nil, err
	}
	return &platform.AgentResponse{Content: accumulated.String(), Metadata: finalMeta}, nil
}

// failed maps an invocation error to its terminal code. Cooperative
// cancellation and deadlines keep their own codes; everything else is an
// execution error logged with the agent slug.
func (p *Pipeline) failed(turn *Turn, err error) *platform.Result {
	switch {
	case errors.Is(err, context.Canceled):
		return platform.Failure(platform.ErrCanceled, "turn canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return platform.Failure(platform.ErrTimeout, "turn deadline exceeded")
	}
	p.logger.Error("Agent execution failed",
		zap.String("agent_slug", turn.AgentSlug), zap.Error(err))
	return platform.Failure(platform.ErrExecution, err.Error())
}

func validate(msg *platform.UserMessage) string {
	if msg == nil {
		return "message is required"
	}
	if msg.Content == "" && len(msg.Attachments) == 0 {
		return "content is empty and no attachments are present"
	}
	if n := utf8.RuneCountInString(msg.Content); n > platform.MaxContentLength {
		return fmt.Sprintf("content length %d exceeds maximum %d", n, platform.MaxContentLength)
	}
	return ""
}

// metaInt reads a numeric metadata value. JSON round trips produce float64,
// direct writes produce int.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
