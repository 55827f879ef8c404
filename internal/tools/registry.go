package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/platform"
)

// Registry holds the tool handles, keyed by slug. Built at startup, then
// read-mostly: reads take the shared lock, (re)registration the exclusive one.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *logger.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: log.WithFields(zap.String("component", "tool_registry")),
	}
}

// Register adds a tool under its metadata slug. A duplicate slug replaces the
// earlier registration with a warning.
func (r *Registry) Register(tool Tool) {
	meta := tool.Metadata()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[meta.Slug]; exists {
		r.logger.Warn("Replacing registered tool", zap.String("slug", meta.Slug))
	}
	r.tools[meta.Slug] = tool
	r.logger.Debug("Registered tool",
		zap.String("slug", meta.Slug),
		zap.String("version", meta.Version))
}

// Get returns the tool registered under slug.
func (r *Registry) Get(slug string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[slug]
	return tool, ok
}

// Has reports whether a tool is registered under slug.
func (r *Registry) Has(slug string) bool {
	_, ok := r.Get(slug)
	return ok
}

// List returns the metadata of every registered tool, sorted by slug.
func (r *Registry) List() []platform.ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]platform.ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// ListByCategory returns the metadata of tools in the given category.
func (r *Registry) ListByCategory(category string) []platform.ToolMetadata {
	var out []platform.ToolMetadata
	for _, meta := range r.List() {
		if meta.Category == category {
			out = append(out, meta)
		}
	}
	return out
}

// Categories returns the distinct categories of registered tools, sorted.
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

// Health reports the health of every registered tool.
func (r *Registry) Health(ctx context.Context) map[string]platform.HealthStatus {
	r.mu.RLock()
	slugs := make([]string, 0, len(r.tools))
	for slug := range r.tools {
		slugs = append(slugs, slug)
	}
	r.mu.RUnlock()

	out := make(map[string]platform.HealthStatus, len(slugs))
	for _, slug := range slugs {
		out[slug] = r.HealthOf(ctx, slug)
	}
	return out
}

// HealthOf reports the health of one tool.
func (r *Registry) HealthOf(ctx context.Context, slug string) platform.HealthStatus {
	tool, ok := r.Get(slug)
	if !ok {
		return platform.HealthStatus{Healthy: false, Message: "not registered"}
	}
	if reporter, ok := tool.(HealthReporter); ok {
		return reporter.Health(ctx)
	}
	return platform.HealthStatus{Healthy: true}
}

// Execute validates params against the tool's input schema and invokes it.
// Schema mismatches return INVALID_PARAMS without entering the tool; errors
// and panics inside the tool map to PROCESSING_ERROR.
func (r *Registry) Execute(ctx context.Context, slug string, params map[string]any, tc Context) *platform.ToolResult {
	tool, ok := r.Get(slug)
	if !ok {
		return platform.ToolFail(platform.ErrNotFound, fmt.Sprintf("tool %q is not registered", slug))
	}

	meta := tool.Metadata()
	if err := ValidateParams(meta.InputSchema, params); err != nil {
		return platform.ToolFail(platform.ErrInvalidParams, err.Error())
	}
	if validator, ok := tool.(ParamValidator); ok {
		if err := validator.ValidateParams(params); err != nil {
			return platform.ToolFail(platform.ErrInvalidParams, err.Error())
		}
	}
	params = ApplyDefaults(meta.InputSchema, params)

	result, err := r.invoke(ctx, tool, params, tc)
	if err != nil {
		r.logger.Error("Tool execution failed",
			zap.String("slug", slug), zap.Error(err))
		return platform.ToolFail(platform.ErrProcessing, err.Error())
	}
	if result == nil {
		return platform.ToolFail(platform.ErrProcessing, "tool returned no result")
	}
	return result
}

// invoke calls the tool, converting a panic into an error.
func (r *Registry) invoke(ctx context.Context, tool Tool, params map[string]any, tc Context) (result *platform.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return tool.Execute(ctx, params, tc)
}
