package agents

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/logger"
	"github.com/arborhq/arbor/internal/connectors"
	"github.com/arborhq/arbor/internal/platform"
	"github.com/arborhq/arbor/internal/tools"
)

// Registry maps agent slugs to their registered handles. Built at startup,
// read-mostly afterwards.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent

	tools      *tools.Registry
	connectors *connectors.Registry
	catalog    *Catalog
	logger     *logger.Logger
}

// NewRegistry creates an empty agent registry. The tool and connector
// registries back dependency checks; a non-nil catalog persists manifests.
func NewRegistry(toolReg *tools.Registry, connReg *connectors.Registry, catalog *Catalog, log *logger.Logger) *Registry {
	return &Registry{
		agents:     make(map[string]Agent),
		tools:      toolReg,
		connectors: connReg,
		catalog:    catalog,
		logger:     log.WithFields(zap.String("component", "agent_registry")),
	}
}

// Register adds an agent under its manifest slug. A duplicate slug replaces
// the earlier registration with a warning. Missing manifest dependencies are
// a warning at admission; invocation enforces them as a hard error.
func (r *Registry) Register(ctx context.Context, agent Agent) {
	manifest := agent.Manifest()
	slug := manifest.Slug

	if missing := r.MissingDependencies(manifest); len(missing) > 0 {
		r.logger.Warn("Agent registered with unmet dependencies",
			zap.String("agent_slug", slug), zap.Strings("missing", missing))
	}

	r.mu.Lock()
	_, replaced := r.agents[slug]
	r.agents[slug] = agent
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("Duplicate agent slug, replacing earlier registration",
			zap.String("agent_slug", slug))
	}

	if r.catalog != nil {
		if err := r.catalog.Upsert(ctx, manifest); err != nil {
			r.logger.Warn("Agent catalog persist failed",
				zap.String("agent_slug", slug), zap.Error(err))
		}
	}
}

// Get returns the agent registered under slug.
func (r *Registry) Get(slug string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[slug]
	return agent, ok
}

// Has reports whether an agent is registered under slug.
func (r *Registry) Has(slug string) bool {
	_, ok := r.Get(slug)
	return ok
}

// List returns every registered manifest sorted by slug.
func (r *Registry) List() []platform.AgentManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	manifests := make([]platform.AgentManifest, 0, len(r.agents))
	for _, agent := range r.agents {
		manifests = append(manifests, agent.Manifest())
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Slug < manifests[j].Slug })
	return manifests
}

// MissingDependencies returns the manifest's required tools and connectors
// that are not present in the live registries.
func (r *Registry) MissingDependencies(manifest platform.AgentManifest) []string {
	var missing []string
	for _, slug := range manifest.RequiredTools {
		if r.tools == nil || !r.tools.Has(slug) {
			missing = append(missing, "tool:"+slug)
		}
	}
	for _, slug := range manifest.RequiredConnectors {
		if r.connectors == nil || !r.connectors.Has(slug) {
			missing = append(missing, "connector:"+slug)
		}
	}
	return missing
}
