package ws

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Job subscriptions
	ActionJobSubscribe   = "job.subscribe"
	ActionJobUnsubscribe = "job.unsubscribe"

	// Pushed bus envelopes
	ActionJobEvent    = "job.event"
	ActionStreamEvent = "stream.event"
)

// Error codes for WebSocket error payloads
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)
