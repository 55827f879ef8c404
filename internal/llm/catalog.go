package llm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/arborhq/arbor/internal/db"
)

// Provider is one row of the llm_providers catalog.
type Provider struct {
	ID       int64  `db:"id"`
	Slug     string `db:"slug"`
	Name     string `db:"name"`
	BaseURL  string `db:"base_url"`
	IsActive bool   `db:"is_active"`
}

// Model is one row of the llm_models catalog.
type Model struct {
	ID         int64  `db:"id"`
	ProviderID int64  `db:"provider_id"`
	Slug       string `db:"slug"`
	Name       string `db:"name"`
	IsActive   bool   `db:"is_active"`
}

// Pair is an active (provider, model) combination in catalog insertion order.
type Pair struct {
	Provider Provider
	Model    Model
}

// Catalog is the relational store of providers, models, and per-agent
// configuration.
type Catalog struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewCatalog creates the catalog and initializes its schema.
func NewCatalog(pool *db.Pool) (*Catalog, error) {
	c := &Catalog{writer: pool.Writer(), reader: pool.Reader()}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("llm catalog schema init: %w", err)
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS llm_providers (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		slug      TEXT NOT NULL UNIQUE,
		name      TEXT NOT NULL,
		base_url  TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS llm_models (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_id INTEGER NOT NULL REFERENCES llm_providers(id),
		slug        TEXT NOT NULL,
		name        TEXT NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT 1,
		UNIQUE (provider_id, slug)
	);
	CREATE TABLE IF NOT EXISTS agent_llm_configs (
		agent_slug  TEXT PRIMARY KEY,
		provider_id INTEGER NOT NULL REFERENCES llm_providers(id),
		model_id    INTEGER NOT NULL REFERENCES llm_models(id),
		is_active   BOOLEAN NOT NULL DEFAULT 1
	);
	`
	_, err := c.writer.Exec(schema)
	return err
}

// AddProvider inserts or reactivates a provider and returns its id.
func (c *Catalog) AddProvider(ctx context.Context, slug, name, baseURL string) (int64, error) {
	query := c.writer.Rebind(`
		INSERT INTO llm_providers (slug, name, base_url, is_active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			base_url = excluded.base_url,
			is_active = 1`)
	if _, err := c.writer.ExecContext(ctx, query, slug, name, baseURL); err != nil {
		return 0, fmt.Errorf("add provider: %w", err)
	}

	var id int64
	get := c.reader.Rebind(`SELECT id FROM llm_providers WHERE slug = ?`)
	if err := c.reader.GetContext(ctx, &id, get, slug); err != nil {
		return 0, fmt.Errorf("lookup provider id: %w", err)
	}
	return id, nil
}

// AddModel inserts or reactivates a model under a provider and returns its id.
func (c *Catalog) AddModel(ctx context.Context, providerID int64, slug, name string) (int64, error) {
	query := c.writer.Rebind(`
		INSERT INTO llm_models (provider_id, slug, name, is_active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (provider_id, slug) DO UPDATE SET
			name = excluded.name,
			is_active = 1`)
	if _, err := c.writer.ExecContext(ctx, query, providerID, slug, name); err != nil {
		return 0, fmt.Errorf("add model: %w", err)
	}

	var id int64
	get := c.reader.Rebind(`SELECT id FROM llm_models WHERE provider_id = ? AND slug = ?`)
	if err := c.reader.GetContext(ctx, &id, get, providerID, slug); err != nil {
		return 0, fmt.Errorf("lookup model id: %w", err)
	}
	return id, nil
}

// SetAgentConfig pins an agent to a specific (provider, model) pair.
func (c *Catalog) SetAgentConfig(ctx context.Context, agentSlug string, providerID, modelID int64) error {
	query := c.writer.Rebind(`
		INSERT INTO agent_llm_configs (agent_slug, provider_id, model_id, is_active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (agent_slug) DO UPDATE SET
			provider_id = excluded.provider_id,
			model_id = excluded.model_id,
			is_active = 1`)
	if _, err := c.writer.ExecContext(ctx, query, agentSlug, providerID, modelID); err != nil {
		return fmt.Errorf("set agent llm config: %w", err)
	}
	return nil
}

// AgentConfig returns the explicitly configured pair for an agent when the
// config, provider, and model are all active. A missing or inactive config
// returns (nil, nil).
func (c *Catalog) AgentConfig(ctx context.Context, agentSlug string) (*Pair, error) {
	query := c.reader.Rebind(`
		SELECT p.id, p.slug, p.name, p.base_url, p.is_active,
		       m.id, m.provider_id, m.slug, m.name, m.is_active
		FROM agent_llm_configs c
		JOIN llm_providers p ON p.id = c.provider_id
		JOIN llm_models m ON m.id = c.model_id
		WHERE c.agent_slug = ? AND c.is_active = 1 AND p.is_active = 1 AND m.is_active = 1`)

	var pair Pair
	err := c.reader.QueryRowContext(ctx, query, agentSlug).Scan(
		&pair.Provider.ID, &pair.Provider.Slug, &pair.Provider.Name,
		&pair.Provider.BaseURL, &pair.Provider.IsActive,
		&pair.Model.ID, &pair.Model.ProviderID, &pair.Model.Slug,
		&pair.Model.Name, &pair.Model.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get agent llm config: %w", err)
	}
	return &pair, nil
}

// ActivePairs returns every active (provider, model) pair in catalog
// insertion order.
func (c *Catalog) ActivePairs(ctx context.Context) ([]Pair, error) {
	query := `
		SELECT p.id, p.slug, p.name, p.base_url, p.is_active,
		       m.id, m.provider_id, m.slug, m.name, m.is_active
		FROM llm_models m
		JOIN llm_providers p ON p.id = m.provider_id
		WHERE p.is_active = 1 AND m.is_active = 1
		ORDER BY p.id, m.id`

	rows, err := c.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active pairs: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var pair Pair
		if err := rows.Scan(
			&pair.Provider.ID, &pair.Provider.Slug, &pair.Provider.Name,
			&pair.Provider.BaseURL, &pair.Provider.IsActive,
			&pair.Model.ID, &pair.Model.ProviderID, &pair.Model.Slug,
			&pair.Model.Name, &pair.Model.IsActive); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}
