// Package platform defines the stable shapes shared across Arbor: agent
// manifests, turn messages, tool/connector contracts, and the error taxonomy.
package platform

import "time"

// MaxContentLength is the maximum length of a user message's content.
const MaxContentLength = 100_000

// Well-known response metadata keys.
const (
	MetaTokensIn  = "tokens_in"
	MetaTokensOut = "tokens_out"
)

// ParamType is the semantic type of a declared tool/connector parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// AuthType describes how a connector authenticates to its external service.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthOAuth2 AuthType = "oauth2"
	AuthBasic  AuthType = "basic"
	AuthCustom AuthType = "custom"
)

// ExecMode describes how a tool executes.
type ExecMode string

const (
	ExecSync  ExecMode = "synchronous"
	ExecAsync ExecMode = "asynchronous"
)

// AgentManifest is the immutable self-description produced by agent code.
// Discovered at startup and persisted to the catalog, but the manifest itself
// is the source of truth.
type AgentManifest struct {
	Slug               string   `json:"slug"`
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Description        string   `json:"description,omitempty"`
	Icon               string   `json:"icon,omitempty"`
	Category           string   `json:"category,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	RequiredTools      []string `json:"required_tools,omitempty"`
	RequiredConnectors []string `json:"required_connectors,omitempty"`
	Triggers           []string `json:"triggers,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	MinPlatformVersion string   `json:"min_platform_version,omitempty"`
}

// CapabilityStreaming marks an agent as able to stream response chunks.
const CapabilityStreaming = "streaming"

// Attachment is a named reference to an object in storage.
type Attachment struct {
	Name       string `json:"name"`
	MimeType   string `json:"mime_type"`
	StorageKey string `json:"storage_key"`
}

// UserMessage is one turn's input. Created by the API layer, consumed once by
// the pipeline.
type UserMessage struct {
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AgentResponse is one turn's output. Metadata may carry tokens_in/tokens_out,
// progress markers, and domain-specific payloads.
type AgentResponse struct {
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ResponseChunk is a streaming fragment. Metadata is only meaningful on the
// final chunk.
type ResponseChunk struct {
	Content  string         `json:"content"`
	IsFinal  bool           `json:"is_final"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ParamSpec declares one parameter of a tool or connector action.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ToolMetadata is a tool's self-describing contract.
type ToolMetadata struct {
	Slug               string      `json:"slug"`
	Name               string      `json:"name"`
	Description        string      `json:"description,omitempty"`
	Version            string      `json:"version"`
	Category           string      `json:"category,omitempty"`
	Mode               ExecMode    `json:"mode"`
	TimeoutSeconds     int         `json:"timeout_seconds,omitempty"`
	InputSchema        []ParamSpec `json:"input_schema"`
	OutputSchema       []ParamSpec `json:"output_schema,omitempty"`
	Examples           []string    `json:"examples,omitempty"`
	RequiredConnectors []string    `json:"required_connectors,omitempty"`
	Tags               []string    `json:"tags,omitempty"`
}

// ActionSpec declares one action of a connector.
type ActionSpec struct {
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	InputSchema  []ParamSpec `json:"input_schema"`
	OutputSchema []ParamSpec `json:"output_schema,omitempty"`
}

// ConnectorMetadata is a connector's self-describing contract.
type ConnectorMetadata struct {
	Slug           string      `json:"slug"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Version        string      `json:"version"`
	Category       string      `json:"category,omitempty"`
	AuthType       AuthType    `json:"auth_type"`
	ConfigSchema   []ParamSpec `json:"config_schema,omitempty"`
	Actions        []ActionSpec `json:"actions"`
	TimeoutSeconds int         `json:"timeout_seconds,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
}

// Action returns the declared action with the given name, or nil.
func (m *ConnectorMetadata) Action(name string) *ActionSpec {
	for i := range m.Actions {
		if m.Actions[i].Name == name {
			return &m.Actions[i]
		}
	}
	return nil
}

// ToolResult is a tagged success record from a tool execution. Success and
// ErrorCode are mutually exclusive.
type ToolResult struct {
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode ErrorCode      `json:"error_code,omitempty"`
}

// ConnectorResult is a tagged success record from a connector action.
type ConnectorResult struct {
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode ErrorCode      `json:"error_code,omitempty"`
}

// ToolOK builds a successful tool result.
func ToolOK(output map[string]any) *ToolResult {
	return &ToolResult{Success: true, Output: output}
}

// ToolFail builds a failed tool result.
func ToolFail(code ErrorCode, msg string) *ToolResult {
	return &ToolResult{Success: false, Error: msg, ErrorCode: code}
}

// ConnectorOK builds a successful connector result.
func ConnectorOK(output map[string]any) *ConnectorResult {
	return &ConnectorResult{Success: true, Output: output}
}

// ConnectorFail builds a failed connector result.
func ConnectorFail(code ErrorCode, msg string) *ConnectorResult {
	return &ConnectorResult{Success: false, Error: msg, ErrorCode: code}
}

// HealthStatus reports the health of a tool or connector.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	Success    bool           `json:"success"`
	Response   *AgentResponse `json:"response,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  ErrorCode      `json:"error_code,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	TokensIn   int            `json:"tokens_in"`
	TokensOut  int            `json:"tokens_out"`
}

// Failure builds a failed pipeline result.
func Failure(code ErrorCode, msg string) *Result {
	return &Result{Success: false, Error: msg, ErrorCode: code}
}

// Role identifies the author of a session message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of an asynchronous job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobStreaming JobStatus = "streaming"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	}
	return false
}

// JobEvent is the envelope published on the job:{id} bus channel.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Progress  *int      `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamEvent is the envelope published on the stream:{id} bus channel.
type StreamEvent struct {
	JobID     string    `json:"job_id"`
	Content   string    `json:"content"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}

// Usage is a token usage record from one LLM call.
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}
