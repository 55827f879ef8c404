package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/secrets"
)

func testGateway(t *testing.T) (*Gateway, *Catalog, *secrets.MemoryStore) {
	t.Helper()
	pool := db.OpenSQLiteMemory(t)
	catalog, err := NewCatalog(pool)
	require.NoError(t, err)
	store := secrets.NewMemoryStore()
	return NewGateway(catalog, store, 1024, logger.Default()), catalog, store
}

func TestResolvePrefersKeyedProvider(t *testing.T) {
	ctx := context.Background()
	gw, catalog, store := testGateway(t)

	p1, err := catalog.AddProvider(ctx, "anthropic", "Anthropic", "")
	require.NoError(t, err)
	_, err = catalog.AddModel(ctx, p1, "claude-sonnet", "Claude Sonnet")
	require.NoError(t, err)

	p2, err := catalog.AddProvider(ctx, "openai", "OpenAI", "")
	require.NoError(t, err)
	_, err = catalog.AddModel(ctx, p2, "gpt-4o", "GPT-4o")
	require.NoError(t, err)

	// Only the second provider has a stored key, so it wins despite the
	// first provider coming earlier in the catalog.
	require.NoError(t, store.Put(ctx, secrets.ProviderKey("openai"), "sk-test"))

	resolved, err := gw.Resolve(ctx, "any-agent")
	require.NoError(t, err)
	assert.Equal(t, "openai", resolved.Provider.Slug)
	assert.Equal(t, "gpt-4o", resolved.Model.Slug)
	assert.Equal(t, "sk-test", resolved.APIKey)
}

func TestResolveExplicitAgentConfig(t *testing.T) {
	ctx := context.Background()
	gw, catalog, store := testGateway(t)

	p1, err := catalog.AddProvider(ctx, "anthropic", "Anthropic", "")
	require.NoError(t, err)
	m1, err := catalog.AddModel(ctx, p1, "claude-sonnet", "Claude Sonnet")
	require.NoError(t, err)

	p2, err := catalog.AddProvider(ctx, "openai", "OpenAI", "")
	require.NoError(t, err)
	_, err = catalog.AddModel(ctx, p2, "gpt-4o", "GPT-4o")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, secrets.ProviderKey("openai"), "sk-test"))

	// Explicit configuration beats the key-gated scan.
	require.NoError(t, catalog.SetAgentConfig(ctx, "pinned-agent", p1, m1))

	resolved, err := gw.Resolve(ctx, "pinned-agent")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resolved.Provider.Slug)
	assert.Equal(t, "claude-sonnet", resolved.Model.Slug)

	// Other agents still resolve through the scan.
	resolved, err = gw.Resolve(ctx, "other-agent")
	require.NoError(t, err)
	assert.Equal(t, "openai", resolved.Provider.Slug)
}

func TestResolveFallsBackToFirstActivePair(t *testing.T) {
	ctx := context.Background()
	gw, catalog, _ := testGateway(t)

	p1, err := catalog.AddProvider(ctx, "anthropic", "Anthropic", "")
	require.NoError(t, err)
	_, err = catalog.AddModel(ctx, p1, "claude-sonnet", "Claude Sonnet")
	require.NoError(t, err)

	p2, err := catalog.AddProvider(ctx, "openai", "OpenAI", "")
	require.NoError(t, err)
	_, err = catalog.AddModel(ctx, p2, "gpt-4o", "GPT-4o")
	require.NoError(t, err)

	// No keys stored anywhere: the first active pair is used and the call
	// itself will surface the auth failure.
	resolved, err := gw.Resolve(ctx, "any-agent")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resolved.Provider.Slug)
	assert.Equal(t, "claude-sonnet", resolved.Model.Slug)
	assert.Empty(t, resolved.APIKey)
}

func TestResolveEmptyCatalog(t *testing.T) {
	ctx := context.Background()
	gw, _, _ := testGateway(t)

	_, err := gw.Resolve(ctx, "any-agent")
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestCatalogActivePairsOrder(t *testing.T) {
	ctx := context.Background()
	_, catalog, _ := testGateway(t)

	p1, err := catalog.AddProvider(ctx, "anthropic", "Anthropic", "")
	require.NoError(t, err)
	_, err = catalog.AddModel(ctx, p1, "claude-opus", "Claude Opus")
	require.NoError(t, err)
	_, err = catalog.AddModel(ctx, p1, "claude-sonnet", "Claude Sonnet")
	require.NoError(t, err)

	p2, err := catalog.AddProvider(ctx, "openai", "OpenAI", "")
	require.NoError(t, err)
	_, err = catalog.AddModel(ctx, p2, "gpt-4o", "GPT-4o")
	require.NoError(t, err)

	pairs, err := catalog.ActivePairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	assert.Equal(t, "claude-opus", pairs[0].Model.Slug)
	assert.Equal(t, "claude-sonnet", pairs[1].Model.Slug)
	assert.Equal(t, "gpt-4o", pairs[2].Model.Slug)
}
