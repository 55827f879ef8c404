package ws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRoutesByAction(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc("echo.say", func(_ context.Context, msg *Message) (*Message, error) {
		var payload map[string]string
		require.NoError(t, msg.ParsePayload(&payload))
		return NewResponse(msg.ID, msg.Action, payload)
	})

	req, err := NewRequest("req-1", "echo.say", map[string]string{"text": "hi"})
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.Equal(t, "req-1", resp.ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(resp.Payload))
}

func TestDispatcherUnknownAction(t *testing.T) {
	d := NewDispatcher()
	req, err := NewRequest("req-1", "no.such", nil)
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, resp.Type)

	var payload ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeUnknownAction, payload.Code)
}

func TestHasHandler(t *testing.T) {
	d := NewDispatcher()
	assert.False(t, d.HasHandler("health.check"))
	d.RegisterFunc("health.check", func(_ context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, msg.Action, map[string]string{"status": "ok"})
	})
	assert.True(t, d.HasHandler("health.check"))
}

func TestRawNotificationForwardsPayloadVerbatim(t *testing.T) {
	payload := []byte(`{"job_id":"j1","status":"running"}`)
	msg := RawNotification(ActionJobEvent, payload)
	assert.Equal(t, MessageTypeNotification, msg.Type)
	assert.Equal(t, ActionJobEvent, msg.Action)
	assert.Equal(t, payload, []byte(msg.Payload))
}
