package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/example/event-matchmaker/internal/persistence"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes the database connection.
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration
	Retry       RetryConfig
}

// dialect hides the placeholder and locking differences between drivers.
type dialect struct {
	name       string
	sqlDriver  string
	numbered   bool
	lockEvent  string
	maxOpenCon int
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name:      DriverSQLite,
		sqlDriver: "sqlite",
		// Taking the write lock first keeps concurrent allocators from
		// reading the same occupancy snapshot.
		lockEvent: `UPDATE events SET updated_at = updated_at WHERE id = ?`,
		// A single connection serialises writers inside one process.
		maxOpenCon: 1,
	},
	DriverPostgres: {
		name:      DriverPostgres,
		sqlDriver: "pgx",
		numbered:  true,
		lockEvent: `SELECT pg_advisory_xact_lock(hashtext(?))`,
	},
}

// rebind rewrites "?" placeholders to "$n" for drivers that need it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// connect opens and configures the pool for cfg.
func connect(ctx context.Context, cfg Config) (*sql.DB, dialect, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, dialect{}, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, dialect{}, fmt.Errorf("sqlstore: DSN cannot be empty")
	}

	dsn := cfg.DSN
	if d.name == DriverSQLite {
		dsn = sqliteDSN(cfg.DSN, cfg.BusyTimeout)
	}

	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, dialect{}, fmt.Errorf("sqlstore: open %s: %w", d.name, err)
	}
	if d.maxOpenCon > 0 {
		db.SetMaxOpenConns(d.maxOpenCon)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dialect{}, fmt.Errorf("sqlstore: ping %s: %w", d.name, err)
	}
	return db, d, nil
}

func sqliteDSN(dsn string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join(pragmas, "&")
}

// ErrorMapper maps driver errors to persistence errors.
type ErrorMapper struct{}

// NewErrorMapper creates a new error mapper.
func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{}
}

// MapError maps driver-specific errors to persistence layer errors.
func (em *ErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
		case "23503", "23514", "23502":
			return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
		}
		return err
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case containsAny(errStr, []string{"FOREIGN KEY constraint failed", "CHECK constraint failed", "NOT NULL constraint failed"}):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	return err
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// RetryConfig configures retry behavior for transactions.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a retry configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryHelper reruns operations that failed on transient lock contention.
type RetryHelper struct {
	config RetryConfig
}

// NewRetryHelper creates a new retry helper.
func NewRetryHelper(config RetryConfig) *RetryHelper {
	return &RetryHelper{config: config}
}

// WithRetry executes fn, retrying with exponential backoff while the error is retryable.
func (rh *RetryHelper) WithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := rh.config.InitialDelay

	for attempt := 0; attempt <= rh.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * rh.config.BackoffFactor)
				if delay > rh.config.MaxDelay {
					delay = rh.config.MaxDelay
				}
			}
		}

		lastErr = fn()
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", rh.config.MaxRetries, lastErr)
}

// isRetryableError reports lock contention and serialization failures.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return containsAny(err.Error(), []string{"database is locked", "SQLITE_BUSY", "database table is locked"})
}
