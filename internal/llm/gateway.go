package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/secrets"
)

// ErrNoModel is returned when the catalog has no active (provider, model)
// pair at all.
var ErrNoModel = errors.New("no active llm provider/model configured")

// Resolved is the outcome of provider/model resolution for an agent.
type Resolved struct {
	Provider Provider
	Model    Model
	// APIKey is empty when resolution fell back to a pair without a stored
	// key; the subsequent call surfaces the auth error.
	APIKey string
}

// Gateway resolves which provider and model serve each agent and hands out
// per-agent handles.
type Gateway struct {
	catalog *Catalog
	secrets secrets.Store
	logger  *logger.Logger

	defaultMaxTokens int

	// clientFor is replaceable in tests.
	clientFor func(provider Provider, apiKey string) Client
}

// NewGateway creates the gateway.
func NewGateway(catalog *Catalog, secretStore secrets.Store, defaultMaxTokens int, log *logger.Logger) *Gateway {
	return &Gateway{
		catalog:          catalog,
		secrets:          secretStore,
		logger:           log.WithFields(zap.String("component", "llm_gateway")),
		defaultMaxTokens: defaultMaxTokens,
		clientFor:        defaultClientFor,
	}
}

// defaultClientFor picks the SDK adapter by provider slug. Unknown providers
// are treated as OpenAI-compatible endpoints at their base URL.
func defaultClientFor(provider Provider, apiKey string) Client {
	switch provider.Slug {
	case "anthropic":
		return NewAnthropicClient(apiKey, provider.BaseURL)
	default:
		return NewOpenAIClient(apiKey, provider.BaseURL)
	}
}

// Resolve picks the (provider, model) pair for an agent:
//
//  1. the agent's explicit active configuration, when present;
//  2. otherwise the first active pair, in catalog order, whose provider API
//     key exists in the secret store — a catalog row without a secret is not
//     a usable model;
//  3. otherwise the first active pair, so the subsequent call surfaces a
//     clear auth error.
func (g *Gateway) Resolve(ctx context.Context, agentSlug string) (*Resolved, error) {
	if pair, err := g.catalog.AgentConfig(ctx, agentSlug); err != nil {
		return nil, err
	} else if pair != nil {
		key, _ := g.lookupKey(ctx, pair.Provider.Slug)
		return &Resolved{Provider: pair.Provider, Model: pair.Model, APIKey: key}, nil
	}

	pairs, err := g.catalog.ActivePairs(ctx)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, ErrNoModel
	}

	for _, pair := range pairs {
		if key, ok := g.lookupKey(ctx, pair.Provider.Slug); ok {
			return &Resolved{Provider: pair.Provider, Model: pair.Model, APIKey: key}, nil
		}
	}

	g.logger.Warn("No provider has a stored API key, falling back to first active pair",
		zap.String("agent_slug", agentSlug),
		zap.String("provider", pairs[0].Provider.Slug))
	return &Resolved{Provider: pairs[0].Provider, Model: pairs[0].Model}, nil
}

func (g *Gateway) lookupKey(ctx context.Context, providerSlug string) (string, bool) {
	key, err := g.secrets.Get(ctx, secrets.ProviderKey(providerSlug))
	if err != nil {
		if !errors.Is(err, secrets.ErrNotFound) {
			g.logger.Warn("Secret store lookup failed",
				zap.String("provider", providerSlug), zap.Error(err))
		}
		return "", false
	}
	return key, key != ""
}

// ForAgent resolves the agent's pair and returns a bound handle.
func (g *Gateway) ForAgent(ctx context.Context, agentSlug string) (*Handle, error) {
	resolved, err := g.Resolve(ctx, agentSlug)
	if err != nil {
		return nil, fmt.Errorf("resolve llm for %s: %w", agentSlug, err)
	}
	return &Handle{
		resolved:         resolved,
		client:           g.clientFor(resolved.Provider, resolved.APIKey),
		defaultMaxTokens: g.defaultMaxTokens,
	}, nil
}

// Handle is an agent-bound LLM client. It records the usage of the last call
// so the pipeline can account tokens after the turn.
type Handle struct {
	resolved         *Resolved
	client           Client
	defaultMaxTokens int

	mu        sync.Mutex
	lastUsage platform.Usage
}

// Resolved returns the provider/model the handle is bound to.
func (h *Handle) Resolved() *Resolved { return h.resolved }

// LastUsage returns the token usage recorded by the most recent call.
func (h *Handle) LastUsage() platform.Usage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsage
}

func (h *Handle) recordUsage(u platform.Usage) {
	h.mu.Lock()
	h.lastUsage = u
	h.mu.Unlock()
}

func (h *Handle) fill(req ChatRequest) ChatRequest {
	if req.MaxTokens <= 0 {
		req.MaxTokens = h.defaultMaxTokens
	}
	return req
}

// Chat runs a blocking completion against the bound model.
func (h *Handle) Chat(ctx context.Context, req ChatRequest) (string, error) {
	text, usage, err := h.client.Chat(ctx, h.resolved.Model.Slug, h.fill(req))
	if err != nil {
		return "", err
	}
	h.recordUsage(usage)
	return text, nil
}

// Stream runs a streaming completion against the bound model. Usage chunks
// are recorded on the handle and not forwarded.
func (h *Handle) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	in, err := h.client.Stream(ctx, h.resolved.Model.Slug, h.fill(req))
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for chunk := range in {
			if chunk.Usage != nil {
				h.recordUsage(*chunk.Usage)
				continue
			}
			out <- chunk
		}
	}()
	return out, nil
}

// Complete satisfies the tool-facing completion surface with default
// parameters.
func (h *Handle) Complete(ctx context.Context, prompt string) (string, error) {
	return h.Chat(ctx, ChatRequest{Prompt: prompt})
}
