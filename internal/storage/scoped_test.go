package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedPrefixes(t *testing.T) {
	store := NewMemoryStore()

	user := ForUser(store, "b", "u1", "echo")
	assert.Equal(t, "users/u1/agents/echo/", user.Prefix())

	ws := ForWorkspace(store, "b", "w1", "echo")
	assert.Equal(t, "workspaces/w1/agents/echo/", ws.Prefix())

	platform := Platform(store, "b")
	assert.Equal(t, "platform/", platform.Prefix())
}

func TestScopedRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	scoped := ForUser(store, "bucket", "u1", "echo")
	ctx := context.Background()

	require.NoError(t, scoped.Put(ctx, "notes/a.txt", []byte("hello"), "text/plain"))

	obj, err := scoped.Get(ctx, "notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), obj.Data)
	assert.Equal(t, "text/plain", obj.ContentType)

	// The underlying store sees only the fully prefixed key.
	assert.Equal(t, []string{"users/u1/agents/echo/notes/a.txt"}, store.Keys("bucket"))

	ok, err := scoped.Exists(ctx, "notes/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := scoped.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/a.txt"}, keys)

	require.NoError(t, scoped.Delete(ctx, "notes/a.txt"))
	_, err = scoped.Get(ctx, "notes/a.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestScopedRejectsEscapingKeys(t *testing.T) {
	store := NewMemoryStore()
	scoped := ForUser(store, "bucket", "u1", "echo")
	ctx := context.Background()

	hostile := []string{
		"../secret.txt",
		"a/../../secret.txt",
		"..",
		"a/..",
		"/etc/passwd",
		"/abs",
		"",
	}
	for _, key := range hostile {
		assert.ErrorIs(t, scoped.Put(ctx, key, []byte("x"), ""), ErrInvalidKey, "put %q", key)

		_, err := scoped.Get(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, "get %q", key)

		assert.ErrorIs(t, scoped.Delete(ctx, key), ErrInvalidKey, "delete %q", key)

		_, err = scoped.Exists(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, "exists %q", key)
	}

	// Nothing outside the prefix was touched.
	assert.Empty(t, store.Keys("bucket"))
}

func TestScopedViewsAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := ForUser(store, "bucket", "u1", "echo")
	b := ForUser(store, "bucket", "u2", "echo")

	require.NoError(t, a.Put(ctx, "f.txt", []byte("a"), ""))
	require.NoError(t, b.Put(ctx, "f.txt", []byte("b"), ""))

	objA, err := a.Get(ctx, "f.txt")
	require.NoError(t, err)
	objB, err := b.Get(ctx, "f.txt")
	require.NoError(t, err)

	assert.Equal(t, []byte("a"), objA.Data)
	assert.Equal(t, []byte("b"), objB.Data)

	keys, err := a.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"f.txt"}, keys)
}

func TestMemoryStoreListPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "b", "x/1", nil, ""))
	require.NoError(t, store.Put(ctx, "b", "x/2", nil, ""))
	require.NoError(t, store.Put(ctx, "b", "y/1", nil, ""))

	keys, err := store.List(ctx, "b", "x/")
	require.NoError(t, err)
	assert.Equal(t, []string{"x/1", "x/2"}, keys)
}
