// Package connectors provides the registry of external-service integrations
// with connect/execute/disconnect lifecycle and per-action schemas.
package connectors

import (
	"context"

	"github.com/arborhq/arbor/internal/platform"
)

// Connector is the contract every platform connector implements. A connector
// declares its actions in metadata; Execute dispatches on the action name.
type Connector interface {
	Metadata() platform.ConnectorMetadata

	// Connect establishes the integration with the given configuration.
	Connect(ctx context.Context, config map[string]any) error

	// Execute runs one declared action. Params are already validated against
	// the action's input schema.
	Execute(ctx context.Context, action string, params map[string]any) (*platform.ConnectorResult, error)

	// Disconnect tears down the integration. Best effort: implementations
	// must not fail in a way that prevents shutdown.
	Disconnect(ctx context.Context)

	// Health reports whether the integration is currently usable.
	Health(ctx context.Context) bool
}
