package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/db"
)

func testStore(t *testing.T) *SQLStore {
	t.Helper()

	pool := db.OpenSQLiteMemory(t)
	crypto, err := NewMasterKeyProvider(t.TempDir())
	require.NoError(t, err)

	store, err := Provide(pool, crypto)
	require.NoError(t, err)
	return store
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key := ProviderKey("anthropic")
	require.NoError(t, store.Put(ctx, key, "sk-ant-test"))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", got)

	has, err := store.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSQLStoreEncryptsAtRest(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", "plaintext-value"))

	var raw []byte
	err := store.reader.QueryRowContext(ctx,
		`SELECT encrypted_value FROM secrets WHERE key = 'k'`).Scan(&raw)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext-value")
}

func TestSQLStorePutOverwrites(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", "v1"))
	require.NoError(t, store.Put(ctx, "k", "v2"))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestSQLStoreMissingKey(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	has, err := store.Has(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, has)

	assert.ErrorIs(t, store.Delete(ctx, "absent"), ErrNotFound)
}

func TestSQLStoreDeleteAndList(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "b", "2"))
	require.NoError(t, store.Put(ctx, "a", "1"))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, store.Delete(ctx, "a"))
	keys, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestMasterKeyPersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()

	p1, err := NewMasterKeyProvider(dir)
	require.NoError(t, err)
	p2, err := NewMasterKeyProvider(dir)
	require.NoError(t, err)

	assert.Equal(t, p1.Key(), p2.Key())
}

func TestEncryptDecrypt(t *testing.T) {
	crypto, err := NewMasterKeyProvider(t.TempDir())
	require.NoError(t, err)

	ciphertext, nonce, err := Encrypt([]byte("hello"), crypto.Key())
	require.NoError(t, err)

	plaintext, err := Decrypt(ciphertext, nonce, crypto.Key())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plaintext))

	// Tampered ciphertext must fail authentication.
	ciphertext[0] ^= 0xff
	_, err = Decrypt(ciphertext, nonce, crypto.Key())
	assert.Error(t, err)
}
