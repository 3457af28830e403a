package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"migrations/002_indexes.sql": {Data: []byte("CREATE INDEX IF NOT EXISTS b ON t (b);")},
		"migrations/001_tables.sql":  {Data: []byte("CREATE TABLE IF NOT EXISTS t (b INT);")},
		"migrations/README.md":       {Data: []byte("ignored")},
	}
}

func TestMigrateAppliesPendingInOrder(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(createMigrationsTable).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`).
		WithArgs("001_tables.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`).
		WithArgs("002_indexes.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS b ON t (b);").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING`).
		WithArgs("002_indexes.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, migrate(context.Background(), mock, testMigrations(), zap.NewNop()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateStopsOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(createMigrationsTable).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`).
		WithArgs("001_tables.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS t (b INT);").WillReturnError(errors.New("syntax error"))

	err = migrate(context.Background(), mock, testMigrations(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_tables.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	require.NoError(t, err)
	assert.Contains(t, names, "001_payments.sql")
}
