package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexzouz/ha-linky/internal/models"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, PostgresDialect), mock
}

func TestPostgres_HasAnyStatistic(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM statistics WHERE statistic_id = \$1\)`).
		WithArgs("linky:12345678901234").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasAnyStatistic(context.Background(), "linky:12345678901234")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetLastStatistic(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT start_time, state, sum\s+FROM statistics\s+WHERE statistic_id = \$1\s+ORDER BY start_time DESC\s+LIMIT 1`).
		WithArgs("linky:1").
		WillReturnRows(sqlmock.NewRows([]string{"start_time", "state", "sum"}).AddRow(start, 12.5, 1000.25))

	got, err := store.GetLastStatistic(context.Background(), "linky:1")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, start.Equal(got.Start))
	assert.Equal(t, 12.5, got.State)
	assert.Equal(t, 1000.25, got.Sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetLastStatisticEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM statistics`).
		WithArgs("linky:1").
		WillReturnRows(sqlmock.NewRows([]string{"start_time", "state", "sum"}))

	got, err := store.GetLastStatistic(context.Background(), "linky:1")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgres_WriteStatistics(t *testing.T) {
	store, mock := newMockStore(t)
	md := models.SeriesMetadata{StatisticID: "linky:1", Source: "linky", Name: "Linky", Unit: "Wh", HasSum: true}
	t0 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	points := []models.StatisticPoint{
		{Start: t0, State: 10, Sum: 10},
		{Start: t0.Add(time.Hour), State: 5, Sum: 15},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO statistics_meta .* ON CONFLICT \(statistic_id\) DO UPDATE`).
		WithArgs("linky:1", "linky", "Linky", "Wh", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO statistics \(statistic_id, start_time, state, sum\)`)
	prep.ExpectExec().
		WithArgs("linky:1", t0.UTC(), 10.0, 10.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("linky:1", t0.Add(time.Hour).UTC(), 5.0, 15.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WriteStatistics(context.Background(), md, points)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WriteStatisticsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	md := models.SeriesMetadata{StatisticID: "linky:1", Source: "linky", Name: "Linky", Unit: "Wh", HasSum: true}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO statistics_meta`).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO statistics`)
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.WriteStatistics(context.Background(), md, []models.StatisticPoint{{Start: time.Now(), State: 1, Sum: 1}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClearStatistics(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	for _, id := range []string{"linky:1", "linky:1_cost"} {
		mock.ExpectExec(`DELETE FROM statistics WHERE statistic_id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(`DELETE FROM statistics_meta WHERE statistic_id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := store.ClearStatistics(context.Background(), "linky:1", "linky:1_cost")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryStatistics(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	mock.ExpectQuery(`WHERE statistic_id = \$1 AND start_time >= \$2 AND start_time < \$3`).
		WithArgs("linky:1", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"start_time", "state", "sum"}).
			AddRow(start, 1.0, 1.0).
			AddRow(start.Add(time.Hour), 2.0, 3.0))

	got, err := store.QueryStatistics(context.Background(), "linky:1", start, end)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[1].Sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS statistics_meta`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS statistics \(`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", false)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestDialect_Rebind(t *testing.T) {
	q := `SELECT 1 WHERE a = $1 AND b = $2 AND c = $10`
	assert.Equal(t, q, PostgresDialect.rebind(q))
	assert.Equal(t, `SELECT 1 WHERE a = ? AND b = ? AND c = ?`, SQLiteDialect.rebind(q))
}

func TestScanTime(t *testing.T) {
	want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	for _, src := range []any{
		want,
		want.In(time.FixedZone("CET", 3600)),
		"2024-01-15 09:00:00",
		[]byte("2024-01-15 10:00:00+01:00"),
		"2024-01-15T09:00:00Z",
		want.Unix(),
	} {
		var got time.Time
		require.NoError(t, scanTime{&got}.Scan(src), "%v", src)
		assert.True(t, want.Equal(got), "%v -> %v", src, got)
	}

	var got time.Time
	assert.Error(t, scanTime{&got}.Scan("yesterday"))
}

func TestSetMaxOpenConns(t *testing.T) {
	store, _ := newMockStore(t)
	store.SetMaxOpenConns(7)
	assert.Equal(t, 7, store.db.Stats().MaxOpenConnections)

	store.SetMaxOpenConns(0)
	assert.Equal(t, 7, store.db.Stats().MaxOpenConnections)
}
