package platform

// ErrorCode is a stable machine-readable error code. Each code surfaces at a
// single layer; callers switch on these rather than on error strings.
type ErrorCode string

const (
	// Pipeline codes.
	ErrValidation              ErrorCode = "VALIDATION_ERROR"
	ErrQuotaExceeded           ErrorCode = "QUOTA_EXCEEDED"
	ErrModerationBlockedInput  ErrorCode = "MODERATION_BLOCKED_INPUT"
	ErrModerationBlockedOutput ErrorCode = "MODERATION_BLOCKED_OUTPUT"
	ErrExecution               ErrorCode = "EXECUTION_ERROR"
	ErrTimeout                 ErrorCode = "TIMEOUT"
	ErrCanceled                ErrorCode = "CANCELED"

	// Engine / session codes.
	ErrAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	ErrSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCycleDetected   ErrorCode = "CYCLE_DETECTED"

	// Tool / connector codes.
	ErrInvalidParams    ErrorCode = "INVALID_PARAMS"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrInvalidAction    ErrorCode = "INVALID_ACTION"
	ErrNotConnected     ErrorCode = "NOT_CONNECTED"
	ErrConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrAuthFailed       ErrorCode = "AUTH_FAILED"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrExternalAPI      ErrorCode = "EXTERNAL_API_ERROR"
	ErrProcessing       ErrorCode = "PROCESSING_ERROR"
	ErrFileNotFound     ErrorCode = "FILE_NOT_FOUND"
)
