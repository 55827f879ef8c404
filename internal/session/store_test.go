package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/platform"
)

func testSessionStore(t *testing.T) *Store {
	t.Helper()

	repo, err := NewRepository(db.OpenSQLiteMemory(t))
	require.NoError(t, err)
	return NewStore(repo, nil)
}

func TestCreateAndGetSession(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, "echo", "u1", "First chat")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	got, err := store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", got.AgentSlug)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "First chat", got.Title)
}

func TestGetSessionNotFound(t *testing.T) {
	store := testSessionStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateSessionWithIDIdempotent(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	first, err := store.CreateSessionWithID(ctx, "chosen-id", "echo", "u1", "t1")
	require.NoError(t, err)

	// Second create with the same id returns the original, unchanged.
	second, err := store.CreateSessionWithID(ctx, "chosen-id", "echo", "u1", "other title")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "t1", second.Title)
}

func TestAppendAndGetMessagesInOrder(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "echo", "u1", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		role := platform.RoleUser
		if i%2 == 1 {
			role = platform.RoleAssistant
		}
		_, err := store.AppendMessage(ctx, sess.ID, role, fmt.Sprintf("msg %d", i), nil, nil)
		require.NoError(t, err)
	}

	messages, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("msg %d", i), msg.Content)
		if i > 0 {
			assert.False(t, msg.Timestamp.Before(messages[i-1].Timestamp),
				"timestamps are non-decreasing")
		}
	}
}

func TestGetMessagesLimitReturnsTailChronologically(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "echo", "u1", "")
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := store.AppendMessage(ctx, sess.ID, platform.RoleUser, fmt.Sprintf("m%d", i), nil, nil)
		require.NoError(t, err)
	}

	messages, err := store.GetMessages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m4", messages[0].Content)
	assert.Equal(t, "m5", messages[1].Content)
}

func TestAppendMessageAttachmentsAndMetadata(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "echo", "u1", "")
	require.NoError(t, err)

	atts := []platform.Attachment{{Name: "a.txt", MimeType: "text/plain", StorageKey: "k"}}
	meta := map[string]any{"tokens_in": float64(7)}
	_, err = store.AppendMessage(ctx, sess.ID, platform.RoleAssistant, "hi", atts, meta)
	require.NoError(t, err)

	messages, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, atts, messages[0].Attachments)
	assert.Equal(t, meta, messages[0].Metadata)
}

func TestAppendToMissingSession(t *testing.T) {
	store := testSessionStore(t)

	_, err := store.AppendMessage(context.Background(), "missing", platform.RoleUser, "x", nil, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendTurnPair(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "echo", "u1", "")
	require.NoError(t, err)

	err = store.AppendTurn(ctx, sess.ID,
		&Message{Role: platform.RoleUser, Content: "hi"},
		&Message{Role: platform.RoleAssistant, Content: "you said: hi"})
	require.NoError(t, err)

	messages, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, platform.RoleUser, messages[0].Role)
	assert.Equal(t, platform.RoleAssistant, messages[1].Role)
}

func TestAppendTurnUserOnly(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "echo", "u1", "")
	require.NoError(t, err)

	err = store.AppendTurn(ctx, sess.ID,
		&Message{Role: platform.RoleUser, Content: "hi"}, nil)
	require.NoError(t, err)

	messages, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}

func TestClearMessages(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "echo", "u1", "")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, sess.ID, platform.RoleUser, "x", nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.ClearMessages(ctx, sess.ID))

	messages, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestCloseSessionKeepsHistory(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "echo", "u1", "")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, sess.ID, platform.RoleUser, "x", nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.CloseSession(ctx, sess.ID))

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	messages, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestCloseEmptySession(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "echo", "u1", "")
	require.NoError(t, err)

	messages, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)

	assert.NoError(t, store.CloseSession(ctx, sess.ID))
}

func TestListSessionsByRecency(t *testing.T) {
	store := testSessionStore(t)
	ctx := context.Background()

	a, err := store.CreateSession(ctx, "echo", "u1", "a")
	require.NoError(t, err)
	b, err := store.CreateSession(ctx, "echo", "u1", "b")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "echo", "u2", "other user")
	require.NoError(t, err)

	// Touch a so it becomes the most recent.
	_, err = store.AppendMessage(ctx, a.ID, platform.RoleUser, "x", nil, nil)
	require.NoError(t, err)

	sessions, err := store.ListSessions(ctx, "echo", "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, a.ID, sessions[0].ID)
	assert.Equal(t, b.ID, sessions[1].ID)
}
