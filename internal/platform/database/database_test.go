package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"es-schedule/internal/platform/database"
	"es-schedule/internal/platform/database/dbtest"
)

func TestRebindPostgres(t *testing.T) {
	got := database.DialectPostgres.Rebind("SELECT a FROM t WHERE x = ? AND y = '?' AND z = ?")
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = '?' AND z = $2", got)
	assert.Equal(t, "x = ?", database.DialectMySQL.Rebind("x = ?"))
}

func TestInsertIfAbsent(t *testing.T) {
	cols := []string{"a", "b"}
	assert.Equal(t, "INSERT IGNORE INTO t (a, b) VALUES (?, ?)", database.DialectMySQL.InsertIfAbsent("t", cols))
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2) ON CONFLICT DO NOTHING", database.DialectPostgres.InsertIfAbsent("t", cols))
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?) ON CONFLICT DO NOTHING", database.DialectSQLite.InsertIfAbsent("t", cols))
}

func TestParseDialect(t *testing.T) {
	cases := map[string]database.Dialect{
		"pgx":     database.DialectPostgres,
		"":        database.DialectPostgres,
		"MySQL":   database.DialectMySQL,
		"sqlite3": database.DialectSQLite,
	}
	for in, want := range cases {
		got, err := database.ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := database.ParseDialect("oracle")
	assert.Error(t, err)
}

func TestTableSchemaPrefix(t *testing.T) {
	db := database.Wrap(nil, database.DialectPostgres, "jhdb")
	assert.Equal(t, "jhdb.actual_time", db.Table("actual_time"))
	assert.Equal(t, "idkey", database.Wrap(nil, database.DialectSQLite, "").Table("idkey"))
}

func TestNullTimeScan(t *testing.T) {
	var nt database.NullTime
	require.NoError(t, nt.Scan(nil))
	assert.False(t, nt.Valid)

	require.NoError(t, nt.Scan("2024-03-05 08:30:00+00:00"))
	require.True(t, nt.Valid)
	assert.Equal(t, time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC), nt.Time.UTC())

	require.NoError(t, nt.Scan([]byte("2024-03-05")))
	assert.Equal(t, 5, nt.Time.Day())

	assert.Error(t, nt.Scan(42))
	assert.Error(t, nt.Scan("yesterday"))
}

func TestNullTimeUsesStoreLocation(t *testing.T) {
	taipei := time.FixedZone("CST", 8*3600)
	db := database.Wrap(nil, database.DialectPostgres, "")
	db.Location = taipei

	nt := db.NullTime()
	require.NoError(t, nt.Scan([]byte("2024-03-13 10:00:00")))
	assert.Equal(t, time.Date(2024, 3, 13, 2, 0, 0, 0, time.UTC), nt.Time.UTC())

	require.NoError(t, nt.Scan(time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)))
	assert.True(t, nt.Time.Equal(time.Date(2024, 3, 13, 10, 0, 0, 0, taipei)), "UTC-labelled wall clock is relabelled")

	require.NoError(t, nt.Scan("2024-03-13 10:00:00+00:00"))
	assert.Equal(t, time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC), nt.Time.UTC(), "explicit offsets win")

	require.NoError(t, nt.Scan(nil))
	assert.False(t, nt.Valid)
	assert.Equal(t, taipei, nt.Location)
}

func TestMigrateCreatesSchemas(t *testing.T) {
	db := dbtest.Open(t, "source", "target")

	for _, table := range []string{"jh_wo_timesheet", "idkey", "actual_time", "steel_plate_info"} {
		var n int
		err := db.QueryRowContext(context.Background(),
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}

	require.NoError(t, database.Migrate(context.Background(), db, "target"), "second run is a no-op")
	assert.Error(t, database.Migrate(context.Background(), db, "bogus"))
}
