package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/common/logger"
)

func testBus(t *testing.T) *MemoryBus {
	t.Helper()
	b := NewMemoryBus(logger.Default())
	t.Cleanup(b.Close)
	return b
}

func recv(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestMemoryBusExactChannel(t *testing.T) {
	b := testBus(t)
	ctx := context.Background()

	sub, err := b.PSubscribe(ctx, "job:abc")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "job:abc", []byte("hello")))
	require.NoError(t, b.Publish(ctx, "job:other", []byte("nope")))

	msg := recv(t, sub)
	assert.Equal(t, "job:abc", msg.Channel)
	assert.Equal(t, []byte("hello"), msg.Payload)

	select {
	case extra := <-sub.Messages():
		t.Fatalf("unexpected message on %s", extra.Channel)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusGlobPattern(t *testing.T) {
	b := testBus(t)
	ctx := context.Background()

	sub, err := b.PSubscribe(ctx, "job:*", "stream:*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "job:1", []byte("a")))
	require.NoError(t, b.Publish(ctx, "stream:1", []byte("b")))
	require.NoError(t, b.Publish(ctx, "session:1", []byte("c")))

	assert.Equal(t, "job:1", recv(t, sub).Channel)
	assert.Equal(t, "stream:1", recv(t, sub).Channel)
}

func TestMemoryBusOrderingPerChannel(t *testing.T) {
	b := testBus(t)
	ctx := context.Background()

	sub, err := b.PSubscribe(ctx, "job:*")
	require.NoError(t, err)

	for _, p := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, b.Publish(ctx, "job:x", []byte(p)))
	}
	for _, want := range []string{"1", "2", "3", "4", "5"} {
		assert.Equal(t, want, string(recv(t, sub).Payload))
	}
}

func TestMemoryBusSubscriptionClose(t *testing.T) {
	b := testBus(t)
	ctx := context.Background()

	sub, err := b.PSubscribe(ctx, "job:*")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	require.NoError(t, b.Publish(ctx, "job:1", []byte("a")))

	_, ok := <-sub.Messages()
	assert.False(t, ok, "channel should be closed")
}

func TestMemoryBusCloseRejectsPublish(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	b.Close()

	assert.Error(t, b.Publish(context.Background(), "job:1", []byte("a")))

	_, err := b.PSubscribe(context.Background(), "job:*")
	assert.Error(t, err)
}

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		pattern string
		channel string
		want    bool
	}{
		{"job:*", "job:123", true},
		{"job:*", "job:", true},
		{"job:*", "stream:123", false},
		{"job:abc", "job:abc", true},
		{"job:abc", "job:abcd", false},
		{"*", "anything", true},
	}
	for _, tt := range tests {
		got := compileGlob(tt.pattern).MatchString(tt.channel)
		assert.Equal(t, tt.want, got, "pattern %q channel %q", tt.pattern, tt.channel)
	}
}
