package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// NewPostgresStore connects to PostgreSQL and ensures the schema.
//
// The connection string should be in the format:
// "host=localhost port=5432 user=linky password=secret dbname=linky sslmode=disable"
//
// With timescale set, the points table is converted to a TimescaleDB
// hypertable; the extension must already be installed.
func NewPostgresStore(ctx context.Context, connStr string, timescale bool) (*SQLStore, error) {
	db, err := sql.Open(DriverPostgres, connStr)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewSQLStore(db, PostgresDialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if timescale {
		if _, err := db.ExecContext(ctx, timescaleSchema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create hypertable: %w", err)
		}
	}
	return store, nil
}
