package migration

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"
)

// Manager applies pending migrations found in an fs.FS.
type Manager struct {
	executor *Executor
	fsys     fs.FS
	dir      string
	logger   *zap.Logger
}

// NewManager returns a manager reading migrations from dir within fsys.
func NewManager(executor *Executor, fsys fs.FS, dir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{executor: executor, fsys: fsys, dir: dir, logger: logger.Named("migration")}
}

// Run applies every pending migration in version order. It stops at the first failure.
func (m *Manager) Run(ctx context.Context) error {
	started := time.Now()

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		m.logger.Debug("schema up to date", zap.String("version", status.CurrentVersion))
		return nil
	}

	m.logger.Info("applying migrations",
		zap.String("from_version", status.CurrentVersion),
		zap.Int("pending", len(status.Pending)))

	for i, migration := range status.Pending {
		migrationStarted := time.Now()
		if err := m.executor.Apply(ctx, migration); err != nil {
			m.logger.Error("migration failed",
				zap.String("version", migration.Version),
				zap.String("file", migration.FilePath),
				zap.Error(err))
			return err
		}
		m.logger.Info("migration applied",
			zap.String("version", migration.Version),
			zap.String("description", migration.Description),
			zap.Int("position", i+1),
			zap.Duration("elapsed", time.Since(migrationStarted)))
	}

	m.logger.Info("migrations complete",
		zap.Int("applied", len(status.Pending)),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

// Status compares the migration files with the schema_migrations table.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}
	available, err := Scan(m.fsys, m.dir)
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}
	if err := validateSequence(available, applied); err != nil {
		return Status{}, err
	}

	appliedByVersion := make(map[string]AppliedMigration, len(applied))
	status := Status{Applied: applied}
	for _, row := range applied {
		appliedByVersion[row.Version] = row
		if versionNumber(row.Version) > versionNumber(status.CurrentVersion) {
			status.CurrentVersion = row.Version
		}
	}
	for _, migration := range available {
		row, ok := appliedByVersion[migration.Version]
		if !ok {
			status.Pending = append(status.Pending, migration)
			continue
		}
		if row.Checksum != "" && row.Checksum != migration.Checksum {
			return Status{}, NewMigrationError(migration.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return status, nil
}

// validateSequence rejects gaps in the available versions and applied versions with no file.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	known := make(map[int]bool, len(available))
	for i, migration := range available {
		version := versionNumber(migration.Version)
		if i > 0 && version != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, versionNumber(available[i-1].Version)+1)
		}
		known[version] = true
	}
	for _, row := range applied {
		if !known[versionNumber(row.Version)] {
			return fmt.Errorf("%w: applied migration %s not found in available migrations", ErrVersionConflict, row.Version)
		}
	}
	return nil
}
