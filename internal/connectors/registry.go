package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/tools"
)

// Registry holds the connector handles plus the set of currently connected
// slugs. Reads take the shared lock; registration, connect, and disconnect
// take the exclusive one.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	connected  map[string]bool
	logger     *logger.Logger
}

// NewRegistry creates an empty connector registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		connected:  make(map[string]bool),
		logger:     log.WithFields(zap.String("component", "connector_registry")),
	}
}

// RegisterBuiltins registers the platform's built-in connector set.
func RegisterBuiltins(r *Registry, log *logger.Logger) {
	r.Register(NewHTTPFetchConnector(log))
	r.Register(NewWebhookConnector(log))
}

// Register adds a connector under its metadata slug. A duplicate slug
// replaces the earlier registration with a warning.
func (r *Registry) Register(c Connector) {
	meta := c.Metadata()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[meta.Slug]; exists {
		r.logger.Warn("Replacing registered connector", zap.String("slug", meta.Slug))
	}
	r.connectors[meta.Slug] = c
	delete(r.connected, meta.Slug)
	r.logger.Debug("Registered connector",
		zap.String("slug", meta.Slug),
		zap.String("auth_type", string(meta.AuthType)))
}

// Get returns the connector registered under slug.
func (r *Registry) Get(slug string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[slug]
	return c, ok
}

// Has reports whether a connector is registered under slug.
func (r *Registry) Has(slug string) bool {
	_, ok := r.Get(slug)
	return ok
}

// IsConnected reports whether the connector has been connected.
func (r *Registry) IsConnected(slug string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected[slug]
}

// List returns the metadata of every registered connector, sorted by slug.
func (r *Registry) List() []platform.ConnectorMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]platform.ConnectorMetadata, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// ListByCategory returns the metadata of connectors in the given category.
func (r *Registry) ListByCategory(category string) []platform.ConnectorMetadata {
	var out []platform.ConnectorMetadata
	for _, meta := range r.List() {
		if meta.Category == category {
			out = append(out, meta)
		}
	}
	return out
}

// Categories returns the distinct categories of registered connectors.
func (r *Registry) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, meta := range r.List() {
		if meta.Category != "" && !seen[meta.Category] {
			seen[meta.Category] = true
			out = append(out, meta.Category)
		}
	}
	sort.Strings(out)
	return out
}

// Connect establishes the connector with the given configuration and, on
// success, marks it connected.
func (r *Registry) Connect(ctx context.Context, slug string, config map[string]any) error {
	c, ok := r.Get(slug)
	if !ok {
		return fmt.Errorf("connector %q is not registered", slug)
	}
	if err := c.Connect(ctx, config); err != nil {
		return fmt.Errorf("connect %s: %w", slug, err)
	}

	r.mu.Lock()
	r.connected[slug] = true
	r.mu.Unlock()
	return nil
}

// Disconnect tears down one connector. Best effort; never returns an error.
func (r *Registry) Disconnect(ctx context.Context, slug string) {
	c, ok := r.Get(slug)
	if !ok {
		return
	}
	r.disconnectOne(ctx, slug, c)
}

// DisconnectAll tears down every connected connector. Best effort.
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.RLock()
	connected := make(map[string]Connector)
	for slug := range r.connected {
		connected[slug] = r.connectors[slug]
	}
	r.mu.RUnlock()

	for slug, c := range connected {
		r.disconnectOne(ctx, slug, c)
	}
}

func (r *Registry) disconnectOne(ctx context.Context, slug string, c Connector) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("Connector panicked during disconnect",
				zap.String("slug", slug), zap.Any("panic", rec))
		}
	}()
	c.Disconnect(ctx)

	r.mu.Lock()
	delete(r.connected, slug)
	r.mu.Unlock()
}

// Health reports the health of every registered connector.
func (r *Registry) Health(ctx context.Context) map[string]platform.HealthStatus {
	r.mu.RLock()
	slugs := make([]string, 0, len(r.connectors))
	for slug := range r.connectors {
		slugs = append(slugs, slug)
	}
	r.mu.RUnlock()

	out := make(map[string]platform.HealthStatus, len(slugs))
	for _, slug := range slugs {
		out[slug] = r.HealthOf(ctx, slug)
	}
	return out
}

// HealthOf reports the health of one connector.
func (r *Registry) HealthOf(ctx context.Context, slug string) platform.HealthStatus {
	c, ok := r.Get(slug)
	if !ok {
		return platform.HealthStatus{Healthy: false, Message: "not registered"}
	}
	if !r.IsConnected(slug) {
		return platform.HealthStatus{Healthy: false, Message: "not connected"}
	}
	if !c.Health(ctx) {
		return platform.HealthStatus{Healthy: false, Message: "health check failed"}
	}
	return platform.HealthStatus{Healthy: true}
}

// Execute validates the action and its params, then delegates to the
// connector. Unknown slug, undeclared action, not-connected state, and schema
// mismatches are rejected before the connector runs; errors and panics inside
// the connector map to PROCESSING_ERROR.
func (r *Registry) Execute(ctx context.Context, slug, action string, params map[string]any) *platform.ConnectorResult {
	c, ok := r.Get(slug)
	if !ok {
		return platform.ConnectorFail(platform.ErrNotFound,
			fmt.Sprintf("connector %q is not registered", slug))
	}

	meta := c.Metadata()
	spec := meta.Action(action)
	if spec == nil {
		return platform.ConnectorFail(platform.ErrInvalidAction,
			fmt.Sprintf("connector %q has no action %q", slug, action))
	}
	if !r.IsConnected(slug) {
		return platform.ConnectorFail(platform.ErrNotConnected,
			fmt.Sprintf("connector %q is not connected", slug))
	}
	if err := tools.ValidateParams(spec.InputSchema, params); err != nil {
		return platform.ConnectorFail(platform.ErrInvalidParams, err.Error())
	}
	params = tools.ApplyDefaults(spec.InputSchema, params)

	result, err := r.invoke(ctx, c, action, params)
	if err != nil {
		r.logger.Error("Connector execution failed",
			zap.String("slug", slug), zap.String("action", action), zap.Error(err))
		return platform.ConnectorFail(platform.ErrProcessing, err.Error())
	}
	if result == nil {
		return platform.ConnectorFail(platform.ErrProcessing, "connector returned no result")
	}
	return result
}

func (r *Registry) invoke(ctx context.Context, c Connector, action string, params map[string]any) (result *platform.ConnectorResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("connector panicked: %v", rec)
		}
	}()
	return c.Execute(ctx, action, params)
}
