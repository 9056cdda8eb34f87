// Package sqlstore implements persistence.Store on SQLite (modernc.org/sqlite)
// and PostgreSQL (pgx) through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/persistence"
	"github.com/example/event-matchmaker/internal/persistence/sqlstore/migration"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// timeLayout is fixed width so stored UTC instants order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const dateLayout = "2006-01-02"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements persistence.Repositories over a querier.
type queries struct {
	q       querier
	dialect dialect
	mapper  *ErrorMapper
	inTx    bool
}

var _ persistence.Repositories = (*queries)(nil)

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := q.q.ExecContext(ctx, q.dialect.rebind(query), args...)
	if err != nil {
		return nil, q.mapper.MapError(err)
	}
	return result, nil
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := q.q.QueryContext(ctx, q.dialect.rebind(query), args...)
	if err != nil {
		return nil, q.mapper.MapError(err)
	}
	return rows, nil
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.dialect.rebind(query), args...)
}

// LockEvent takes the event's write lock for the rest of the transaction.
// Outside a transaction there is nothing to hold the lock, so it is a no-op.
func (q *queries) LockEvent(ctx context.Context, eventID string) error {
	if !q.inTx {
		return nil
	}
	if _, err := q.exec(ctx, q.dialect.lockEvent, eventID); err != nil {
		return fmt.Errorf("sqlstore: lock event %s: %w", eventID, err)
	}
	return nil
}

// Store is a persistence.Store backed by a SQL database.
type Store struct {
	*queries
	db     *sql.DB
	retry  *RetryHelper
	logger *zap.Logger
}

var _ persistence.Store = (*Store)(nil)

// Open connects to the database described by cfg. Call Migrate before use on a fresh database.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, d, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = DefaultRetryConfig()
	}
	return &Store{
		queries: &queries{q: db, dialect: d, mapper: NewErrorMapper()},
		db:      db,
		retry:   NewRetryHelper(retry),
		logger:  logger.Named("sqlstore").With(zap.String("driver", d.name)),
	}, nil
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	manager := migration.NewManager(migration.NewExecutor(s.db, s.dialect.rebind), migrationFS, "migrations", s.logger)
	return manager.Run(ctx)
}

// MigrationStatus reports applied and pending embedded migrations.
func (s *Store) MigrationStatus(ctx context.Context) (migration.Status, error) {
	manager := migration.NewManager(migration.NewExecutor(s.db, s.dialect.rebind), migrationFS, "migrations", s.logger)
	return manager.Status(ctx)
}

// WithinTx runs fn in a transaction, retrying the whole unit on lock contention.
func (s *Store) WithinTx(ctx context.Context, fn persistence.TxFunc) error {
	attempt := 0
	return s.retry.WithRetry(ctx, func() error {
		attempt++
		if attempt > 1 {
			s.logger.Debug("retrying transaction", zap.Int("attempt", attempt))
		}
		return s.runTx(ctx, fn)
	})
}

func (s *Store) runTx(ctx context.Context, fn persistence.TxFunc) (err error) {
	started := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	repos := &queries{q: tx, dialect: s.dialect, mapper: s.mapper, inTx: true}
	if err = fn(ctx, repos); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit transaction: %w", s.mapper.MapError(err))
	}
	s.logger.Debug("transaction committed", zap.Duration("elapsed", time.Since(started)))
	return nil
}

// CreateLocation stores the location and its venue links atomically.
func (s *Store) CreateLocation(ctx context.Context, location persistence.Location) error {
	return s.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		return repos.CreateLocation(ctx, location)
	})
}

// ReplaceAvailability swaps the member's availability atomically.
func (s *Store) ReplaceAvailability(ctx context.Context, eventID, userID string, sessionIDs []string) error {
	return s.WithinTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		return repos.ReplaceAvailability(ctx, eventID, userID, sessionIDs)
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlstore: parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func formatOptionalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseOptionalTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatOptionalDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseOptionalDate(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, value.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parse date %q: %w", value.String, err)
	}
	return &t, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
