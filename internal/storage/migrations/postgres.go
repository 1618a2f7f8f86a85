package migrations

import (
	"context"
	"fmt"

	"solana-order-router/internal/storage/postgres"
)

// RunPostgresMigrations applies every embedded PostgreSQL file in order.
// Each file must be idempotent; all are re-run on every start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, m := range files {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
