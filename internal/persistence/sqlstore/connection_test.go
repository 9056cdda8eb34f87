package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/event-matchmaker/internal/persistence"
)

func TestDialectRebind(t *testing.T) {
	query := `SELECT id FROM meetings WHERE event_id = ? AND status IN (?, ?)`

	assert.Equal(t, query, dialects[DriverSQLite].rebind(query))
	assert.Equal(t,
		`SELECT id FROM meetings WHERE event_id = $1 AND status IN ($2, $3)`,
		dialects[DriverPostgres].rebind(query))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("file:/tmp/x.db", 250*time.Millisecond)
	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/x.db?_pragma=busy_timeout(250)"), dsn)
	assert.Contains(t, dsn, "_pragma=foreign_keys(1)")

	withQuery := sqliteDSN("file:/tmp/x.db?cache=shared", 0)
	assert.Contains(t, withQuery, "cache=shared&_pragma=busy_timeout(5000)")
}

func TestErrorMapper(t *testing.T) {
	mapper := NewErrorMapper()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: persistence.ErrNotFound},
		{name: "sqlite unique", err: errors.New("constraint failed: UNIQUE constraint failed: matches.event_id (2067)"), want: persistence.ErrDuplicate},
		{name: "sqlite foreign key", err: errors.New("FOREIGN KEY constraint failed (787)"), want: persistence.ErrConstraintViolation},
		{name: "sqlite check", err: errors.New("CHECK constraint failed: capacity > 0"), want: persistence.ErrConstraintViolation},
		{name: "postgres unique", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: persistence.ErrDuplicate},
		{name: "postgres foreign key", err: &pgconn.PgError{Code: "23503"}, want: persistence.ErrConstraintViolation},
		{name: "postgres check", err: &pgconn.PgError{Code: "23514"}, want: persistence.ErrConstraintViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapper.MapError(tt.err), tt.want)
		})
	}

	other := errors.New("connection reset")
	assert.Same(t, other, mapper.MapError(other))
	assert.NoError(t, mapper.MapError(nil))
}

func TestRetryHelper(t *testing.T) {
	helper := NewRetryHelper(RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2})

	attempts := 0
	err := helper.WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = helper.WithRetry(context.Background(), func() error {
		attempts++
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	permanent := errors.New("syntax error")
	err = helper.WithRetry(context.Background(), func() error {
		attempts++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")

	_, err = Open(context.Background(), Config{Driver: DriverSQLite}, nil)
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{Driver: DriverSQLite, DSN: "file:" + filepath.Join(t.TempDir(), "m.db")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	status, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "001", status.CurrentVersion)
	assert.Empty(t, status.Pending)
	assert.Equal(t, DriverSQLite, store.Driver())
}

func TestTimestampLayoutSortsLexically(t *testing.T) {
	earlier := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	later := earlier.Add(1500 * time.Millisecond)
	zoned := later.In(time.FixedZone("JST", 9*3600))

	assert.Less(t, formatTime(earlier), formatTime(later))
	assert.Equal(t, formatTime(later), formatTime(zoned))

	parsed, err := parseTime(formatTime(zoned))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(later))
}
