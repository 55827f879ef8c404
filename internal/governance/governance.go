// Package governance defines the collaborator interfaces the execution
// pipeline consumes: moderation, quotas, consumption accounting, and the
// authorization gate. The core assumes an adapter satisfies each; the local
// implementations in this package make the platform runnable stand-alone.
package governance

import "context"

// Verdict is the outcome of a moderation filter.
type Verdict struct {
	// Blocked refuses the content outright.
	Blocked bool

	// Reason describes why the content was blocked.
	Reason string

	// Replacement, when non-empty on an unblocked verdict, substitutes the
	// content before it reaches the agent or the caller.
	Replacement string
}

// Moderation filters turn input before the agent runs and turn output before
// the caller sees it.
type Moderation interface {
	FilterIn(ctx context.Context, content, agentSlug string) (Verdict, error)
	FilterOut(ctx context.Context, content, agentSlug string) (Verdict, error)
}

// QuotaDecision is the outcome of a quota check.
type QuotaDecision struct {
	Allowed bool
	Reason  string
}

// QuotaService decides whether a user may run a turn against an agent.
type QuotaService interface {
	Check(ctx context.Context, userID, agentSlug string) (QuotaDecision, error)
}

// ConsumptionRecord is one turn's token usage, attributed to the resolved
// provider and model when resolution succeeded.
type ConsumptionRecord struct {
	UserID     string
	AgentSlug  string
	ProviderID *int64
	ModelID    *int64
	TokensIn   int
	TokensOut  int
	CostIn     float64
	CostOut    float64
}

// ConsumptionService records token usage per turn.
type ConsumptionService interface {
	Record(ctx context.Context, rec ConsumptionRecord) error
}

// AuthZ is the authorization gate. Enforcement lives in the API adapter; the
// core only consumes the check.
type AuthZ interface {
	Check(ctx context.Context, userID, resource, action string) (bool, error)
}

// AllowAll is the permissive AuthZ used when no external policy engine is
// wired.
type AllowAll struct{}

// Check always allows.
func (AllowAll) Check(context.Context, string, string, string) (bool, error) { return true, nil }
