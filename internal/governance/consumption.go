package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/arborhq/arbor/internal/db"
)

// SQLConsumption records token usage to the consumptions table.
type SQLConsumption struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

var _ ConsumptionService = (*SQLConsumption)(nil)

// ProvideConsumption creates the SQL-backed consumption recorder and
// initializes its schema.
func ProvideConsumption(pool *db.Pool) (*SQLConsumption, error) {
	c := &SQLConsumption{writer: pool.Writer(), reader: pool.Reader()}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("consumptions schema init: %w", err)
	}
	return c, nil
}

func (c *SQLConsumption) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS consumptions (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		agent_slug  TEXT NOT NULL,
		provider_id INTEGER,
		model_id    INTEGER,
		tokens_in   INTEGER NOT NULL DEFAULT 0,
		tokens_out  INTEGER NOT NULL DEFAULT 0,
		cost_in     REAL NOT NULL DEFAULT 0,
		cost_out    REAL NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_consumptions_created_at ON consumptions(created_at);
	`
	_, err := c.writer.Exec(schema)
	return err
}

// Record inserts one consumption row. Provider and model may be null when
// resolution failed; the row is still recorded.
func (c *SQLConsumption) Record(ctx context.Context, rec ConsumptionRecord) error {
	query := c.writer.Rebind(`
		INSERT INTO consumptions
			(id, user_id, agent_slug, provider_id, model_id, tokens_in, tokens_out, cost_in, cost_out, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := c.writer.ExecContext(ctx, query,
		uuid.New().String(), rec.UserID, rec.AgentSlug, rec.ProviderID, rec.ModelID,
		rec.TokensIn, rec.TokensOut, rec.CostIn, rec.CostOut, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record consumption: %w", err)
	}
	return nil
}

// TotalsFor returns the summed token counts for a (user, agent) pair.
func (c *SQLConsumption) TotalsFor(ctx context.Context, userID, agentSlug string) (tokensIn, tokensOut int, err error) {
	query := c.reader.Rebind(`
		SELECT COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0)
		FROM consumptions WHERE user_id = ? AND agent_slug = ?`)
	err = c.reader.QueryRowContext(ctx, query, userID, agentSlug).Scan(&tokensIn, &tokensOut)
	if err != nil {
		return 0, 0, fmt.Errorf("sum consumptions: %w", err)
	}
	return tokensIn, tokensOut, nil
}
