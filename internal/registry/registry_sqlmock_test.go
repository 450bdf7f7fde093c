package registry

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

// TestRegisterSurfacesDatabaseErrors exercises Register's error-wrapping path
// against a sqlmock-backed bun.DB rather than a real sqlite file, the
// "SQL-layer unit test without a real file" shape the rest of the registry
// suite (a real file via t.TempDir()) doesn't cover.
func TestRegisterSurfacesDatabaseErrors(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqldb.Close()

	db := bun.NewDB(sqldb, sqlitedialect.New())
	r := &Registry{db: db, log: zerolog.Nop(), entities: make(map[string]*EntityMetadata)}

	mock.ExpectExec("INSERT INTO").WillReturnError(assert.AnError)

	err = r.Register(context.Background(), "orders", sampleSchema(), "id", nil, BackwardCompatible)
	require.Error(t, err)
	code, retryable := errors.Classify(err)
	assert.Equal(t, errors.CodePermanentIO, code)
	assert.False(t, retryable)

	_, ok := r.peek("orders")
	assert.False(t, ok, "a failed persist must not leave a partial in-memory entry")

	require.NoError(t, mock.ExpectationsWereMet())
}
