package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/example/event-matchmaker/internal/persistence/sqlstore"
)

// SQLiteHarness provides a migrated sqlstore.Store backed by a temporary
// SQLite file for integration-style persistence tests.
type SQLiteHarness struct {
	Store *sqlstore.Store

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "matchmaker.db")
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:      sqlstore.DriverSQLite,
		DSN:         "file:" + path,
		BusyTimeout: 5 * time.Second,
	}, zaptest.NewLogger(tb))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store: store,
		cleanup: func() {
			_ = store.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
