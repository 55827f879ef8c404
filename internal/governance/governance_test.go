package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/db"
)

func TestWordlistModerationFilterIn(t *testing.T) {
	m := NewWordlistModeration("Forbidden", "secret")
	ctx := context.Background()

	v, err := m.FilterIn(ctx, "this is fine", "echo")
	require.NoError(t, err)
	assert.False(t, v.Blocked)

	v, err = m.FilterIn(ctx, "a FORBIDDEN word", "echo")
	require.NoError(t, err)
	assert.True(t, v.Blocked)
}

func TestWordlistModerationFilterOutRewrites(t *testing.T) {
	m := NewWordlistModeration("secret")
	ctx := context.Background()

	v, err := m.FilterOut(ctx, "the Secret is out", "echo")
	require.NoError(t, err)
	assert.False(t, v.Blocked)
	assert.Equal(t, "the [redacted] is out", v.Replacement)

	v, err = m.FilterOut(ctx, "nothing to see", "echo")
	require.NoError(t, err)
	assert.Empty(t, v.Replacement)
}

func TestWindowQuota(t *testing.T) {
	q := NewWindowQuota(2, time.Minute)
	now := time.Unix(1000, 0)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := q.Check(ctx, "u1", "echo")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "turn %d", i)
	}

	d, err := q.Check(ctx, "u1", "echo")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.NotEmpty(t, d.Reason)

	// A different pair has its own window.
	d, err = q.Check(ctx, "u2", "echo")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// The window slides.
	now = now.Add(2 * time.Minute)
	d, err = q.Check(ctx, "u1", "echo")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestWindowQuotaUnlimited(t *testing.T) {
	q := NewWindowQuota(0, time.Minute)
	for i := 0; i < 100; i++ {
		d, err := q.Check(context.Background(), "u1", "echo")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestSQLConsumptionRecord(t *testing.T) {
	pool := db.OpenSQLiteMemory(t)
	c, err := ProvideConsumption(pool)
	require.NoError(t, err)
	ctx := context.Background()

	providerID := int64(1)
	require.NoError(t, c.Record(ctx, ConsumptionRecord{
		UserID:     "u1",
		AgentSlug:  "echo",
		ProviderID: &providerID,
		TokensIn:   10,
		TokensOut:  20,
	}))
	// Null provider/model rows are still recorded.
	require.NoError(t, c.Record(ctx, ConsumptionRecord{
		UserID:    "u1",
		AgentSlug: "echo",
		TokensIn:  1,
		TokensOut: 2,
	}))

	in, out, err := c.TotalsFor(ctx, "u1", "echo")
	require.NoError(t, err)
	assert.Equal(t, 11, in)
	assert.Equal(t, 22, out)
}
