package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DashboardsTable is the table holding dashboards and their widget arrays.
const DashboardsTable = "dashboards"

// RunMigrations creates the dashboards table and its indexes. It is idempotent.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id          UUID PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			widgets     JSONB NOT NULL DEFAULT '[]'::jsonb,
			has_dynamic BOOLEAN NOT NULL DEFAULT false,
			version     INTEGER NOT NULL DEFAULT 1,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_owner
			ON %[1]s (owner_id, created_at, id);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_created
			ON %[1]s (created_at, id);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_dynamic
			ON %[1]s (id) WHERE has_dynamic;
	`, DashboardsTable)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", DashboardsTable, err)
	}
	return nil
}
