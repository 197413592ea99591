package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ddl(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS cat_noises (
    position        INTEGER      PRIMARY KEY,
    text            TEXT         NOT NULL,
    category        TEXT         NOT NULL DEFAULT '',
    base_noise      TEXT         NOT NULL DEFAULT '',
    variation_type  TEXT         NOT NULL DEFAULT '',
    model           TEXT         NOT NULL DEFAULT '',
    embedding       vector(%d),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cat_noises_category
    ON cat_noises (category);
`, dims)
}

// Migrate creates the pgvector extension and the cat_noises table. It is
// idempotent. Changing dims after the first migration requires dropping the
// table.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if _, err := pool.Exec(ctx, ddl(dims)); err != nil {
		return fmt.Errorf("noise postgres: migrate: %w", err)
	}
	return nil
}
