package database

import (
	"fmt"
	"regexp"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	sqliteTimeLayout = "2006-01-02 15:04:05"
)

var numberedParam = regexp.MustCompile(`\$\d+`)

// Dialect carries the per-engine differences: schema, placeholders and how
// timestamps are bound.
type Dialect struct {
	name       string
	schema     []string
	positional bool
	timeAsText bool
}

var (
	PostgresDialect = Dialect{
		name: DriverPostgres,
		schema: []string{`
            CREATE TABLE IF NOT EXISTS statistics_meta (
                statistic_id TEXT PRIMARY KEY,
                source TEXT NOT NULL,
                name TEXT NOT NULL,
                unit TEXT NOT NULL,
                has_sum BOOLEAN NOT NULL,
                updated_at TIMESTAMPTZ NOT NULL
            )`, `
            CREATE TABLE IF NOT EXISTS statistics (
                statistic_id TEXT NOT NULL,
                start_time TIMESTAMPTZ NOT NULL,
                state DOUBLE PRECISION NOT NULL,
                sum DOUBLE PRECISION NOT NULL,
                PRIMARY KEY (statistic_id, start_time)
            )`,
		},
	}

	SQLiteDialect = Dialect{
		name: DriverSQLite,
		schema: []string{`
            CREATE TABLE IF NOT EXISTS statistics_meta (
                statistic_id TEXT PRIMARY KEY,
                source TEXT NOT NULL,
                name TEXT NOT NULL,
                unit TEXT NOT NULL,
                has_sum BOOLEAN NOT NULL,
                updated_at TIMESTAMP NOT NULL
            )`, `
            CREATE TABLE IF NOT EXISTS statistics (
                statistic_id TEXT NOT NULL,
                start_time TIMESTAMP NOT NULL,
                state REAL NOT NULL,
                sum REAL NOT NULL,
                PRIMARY KEY (statistic_id, start_time)
            )`,
		},
		positional: true,
		timeAsText: true,
	}
)

// timescaleSchema turns the points table into a hypertable partitioned on
// the hour start.
const timescaleSchema = `SELECT create_hypertable('statistics', 'start_time', if_not_exists => TRUE, migrate_data => TRUE)`

func (d Dialect) Name() string { return d.name }

// rebind rewrites $N placeholders to ? for engines that only take
// positional parameters. Queries here use each $N once, in order.
func (d Dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	return numberedParam.ReplaceAllString(query, "?")
}

func (d Dialect) encodeTime(t time.Time) any {
	if d.timeAsText {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

var timeLayouts = []string{
	sqliteTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
}

// scanTime accepts the timestamp representations drivers hand back.
type scanTime struct {
	dst *time.Time
}

func (s scanTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.dst = v.UTC()
		return nil
	case int64:
		*s.dst = time.Unix(v, 0).UTC()
		return nil
	case []byte:
		return s.parse(string(v))
	case string:
		return s.parse(v)
	case nil:
		*s.dst = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (s scanTime) parse(v string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			*s.dst = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", v)
}
