//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/store.go -package=mocks . StatisticsStore

// Package database persists hourly statistic series.
//
// Architecture:
//   - One SQL implementation serves PostgreSQL (optionally TimescaleDB) and SQLite
//   - Series are keyed by statistic id, points by (statistic id, hour start)
//   - Writes are upserts, so replaying a window never duplicates hours
//   - Timestamps are stored in UTC; callers convert to their local zone
//
// Example usage:
//
//	store, err := NewSQLiteStore(ctx, "/data/linky.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	last, err := store.GetLastStatistic(ctx, "linky:12345678901234")
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexzouz/ha-linky/internal/models"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// StatisticsStore is the persistence contract of the sync pipeline.
//
// The store owns the sync state: the last recorded {start, sum} of every
// series is read back from it at the start of each run.
type StatisticsStore interface {
	// HasAnyStatistic reports whether at least one point exists for the series.
	HasAnyStatistic(ctx context.Context, statisticID string) (bool, error)

	// GetLastStatistic returns the most recent point of the series, or nil
	// when the series is empty.
	GetLastStatistic(ctx context.Context, statisticID string) (*models.StatisticPoint, error)

	// WriteStatistics upserts the metadata and every point in one transaction.
	// Points are keyed by their start hour.
	WriteStatistics(ctx context.Context, md models.SeriesMetadata, points []models.StatisticPoint) error

	// ClearStatistics removes the given series and their metadata.
	ClearStatistics(ctx context.Context, statisticIDs ...string) error

	// QueryStatistics returns the points with start in [start, end), ascending.
	QueryStatistics(ctx context.Context, statisticID string, start, end time.Time) ([]models.StatisticPoint, error)

	// Close releases any resources held by the store.
	Close() error
}

// SQLStore implements StatisticsStore on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore wraps an open handle. The schema is not touched; call Migrate.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Open connects with the named driver ("postgres" or "sqlite"), verifies
// connectivity and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string, timescale bool) (*SQLStore, error) {
	switch driver {
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn, timescale)
	case DriverSQLite:
		return NewSQLiteStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Migrate creates the tables when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) HasAnyStatistic(ctx context.Context, statisticID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT EXISTS (SELECT 1 FROM statistics WHERE statistic_id = $1)`),
		statisticID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check statistics for %s: %w", statisticID, err)
	}
	return exists, nil
}

func (s *SQLStore) GetLastStatistic(ctx context.Context, statisticID string) (*models.StatisticPoint, error) {
	var p models.StatisticPoint
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
        SELECT start_time, state, sum
        FROM statistics
        WHERE statistic_id = $1
        ORDER BY start_time DESC
        LIMIT 1
    `), statisticID).Scan(scanTime{&p.Start}, &p.State, &p.Sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last statistic of %s: %w", statisticID, err)
	}
	return &p, nil
}

// WriteStatistics performs an atomic upsert of the series.
//
// Transaction Flow:
//  1. Begin transaction
//  2. Upsert metadata
//  3. Prepare the point upsert and execute it per point
//  4. Commit or rollback
func (s *SQLStore) WriteStatistics(ctx context.Context, md models.SeriesMetadata, points []models.StatisticPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // rollback if not committed

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`
        INSERT INTO statistics_meta (statistic_id, source, name, unit, has_sum, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (statistic_id) DO UPDATE SET
            source = excluded.source,
            name = excluded.name,
            unit = excluded.unit,
            has_sum = excluded.has_sum,
            updated_at = excluded.updated_at
    `), md.StatisticID, md.Source, md.Name, md.Unit, md.HasSum, s.dialect.encodeTime(s.now())); err != nil {
		return fmt.Errorf("failed to upsert metadata: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`
        INSERT INTO statistics (statistic_id, start_time, state, sum)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (statistic_id, start_time) DO UPDATE SET
            state = excluded.state,
            sum = excluded.sum
    `))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, md.StatisticID, s.dialect.encodeTime(p.Start), p.State, p.Sum); err != nil {
			return fmt.Errorf("failed to upsert statistic point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) ClearStatistics(ctx context.Context, statisticIDs ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range statisticIDs {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM statistics WHERE statistic_id = $1`), id); err != nil {
			return fmt.Errorf("failed to delete statistics of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM statistics_meta WHERE statistic_id = $1`), id); err != nil {
			return fmt.Errorf("failed to delete metadata of %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) QueryStatistics(ctx context.Context, statisticID string, start, end time.Time) ([]models.StatisticPoint, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
        SELECT start_time, state, sum
        FROM statistics
        WHERE statistic_id = $1 AND start_time >= $2 AND start_time < $3
        ORDER BY start_time
    `), statisticID, s.dialect.encodeTime(start), s.dialect.encodeTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics of %s: %w", statisticID, err)
	}
	defer rows.Close()

	results := []models.StatisticPoint{}
	for rows.Next() {
		var p models.StatisticPoint
		if err := rows.Scan(scanTime{&p.Start}, &p.State, &p.Sum); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// SetMaxOpenConns caps the Postgres connection pool. SQLite keeps its
// single connection.
func (s *SQLStore) SetMaxOpenConns(n int) {
	if s.dialect.Name() == DriverPostgres && n > 0 {
		s.db.SetMaxOpenConns(n)
	}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Compile-time interface implementation check
var _ StatisticsStore = (*SQLStore)(nil)
