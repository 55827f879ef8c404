package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arborhq/arbor/internal/db"
	"github.com/arborhq/arbor/internal/platform"
)

// Catalog persists discovered agent manifests to the agents table. The
// manifest produced by agent code stays the source of truth; the table exists
// for listing and administration.
type Catalog struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// CatalogRow is one persisted agent record.
type CatalogRow struct {
	Slug        string    `db:"slug" json:"slug"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Version     string    `db:"version" json:"version"`
	AgentType   string    `db:"agent_type" json:"agent_type"`
	Config      string    `db:"config" json:"config"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// NewCatalog creates the catalog and initializes its schema.
func NewCatalog(pool *db.Pool) (*Catalog, error) {
	c := &Catalog{writer: pool.Writer(), reader: pool.Reader()}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("agent catalog schema init: %w", err)
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		slug        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		version     TEXT NOT NULL DEFAULT '',
		agent_type  TEXT NOT NULL DEFAULT 'builtin',
		config      TEXT NOT NULL DEFAULT '{}',
		is_active   BOOLEAN NOT NULL DEFAULT 1,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	);
	`
	_, err := c.writer.Exec(schema)
	return err
}

// Upsert writes or refreshes the row for a manifest. The full manifest is
// stored as the config payload.
func (c *Catalog) Upsert(ctx context.Context, manifest platform.AgentManifest) error {
	config, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	now := time.Now().UTC()
	query := c.writer.Rebind(`
		INSERT INTO agents (slug, name, description, version, agent_type, config, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'builtin', ?, 1, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			config = excluded.config,
			is_active = 1,
			updated_at = excluded.updated_at`)
	if _, err := c.writer.ExecContext(ctx, query, manifest.Slug, manifest.Name,
		manifest.Description, manifest.Version, string(config), now, now); err != nil {
		return fmt.Errorf("upsert agent %s: %w", manifest.Slug, err)
	}
	return nil
}

// List returns every active agent row ordered by slug.
func (c *Catalog) List(ctx context.Context) ([]CatalogRow, error) {
	var rows []CatalogRow
	query := `SELECT slug, name, description, version, agent_type, config, is_active, created_at, updated_at
		FROM agents WHERE is_active = 1 ORDER BY slug`
	if err := c.reader.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return rows, nil
}

// Deactivate marks an agent row inactive.
func (c *Catalog) Deactivate(ctx context.Context, slug string) error {
	query := c.writer.Rebind(`UPDATE agents SET is_active = 0, updated_at = ? WHERE slug = ?`)
	if _, err := c.writer.ExecContext(ctx, query, time.Now().UTC(), slug); err != nil {
		return fmt.Errorf("deactivate agent %s: %w", slug, err)
	}
	return nil
}
