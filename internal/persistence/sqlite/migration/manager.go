package migration

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

// Manager orchestrates scanning and applying migrations.
type Manager struct {
	scanner  *Scanner
	executor *Executor
	logger   *slog.Logger
}

// NewManager creates a Manager. A nil logger falls back to slog.Default.
func NewManager(scanner *Scanner, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// RunMigrations applies every pending migration in version order and returns
// how many were applied.
func (m *Manager) RunMigrations(ctx context.Context) (int, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}

	if len(status.Pending) == 0 {
		m.logger.InfoContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return 0, nil
	}

	for i, migration := range status.Pending {
		logger := m.logger.With("version", migration.Version, "description", migration.Description)
		logger.InfoContext(ctx, "applying migration", "position", i+1, "pending", len(status.Pending))
		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err)
			return i, err
		}
	}

	last := status.Pending[len(status.Pending)-1]
	m.logger.InfoContext(ctx, "migrations applied", "count", len(status.Pending), "version", last.Version)
	return len(status.Pending), nil
}

// Status compares the available files with schema_migrations. Edited or
// missing files for applied versions are reported as errors.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}

	available, err := m.scanner.Scan()
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.AppliedMigrations(ctx)
	if err != nil {
		return Status{}, err
	}

	byVersion := make(map[int]Migration, len(available))
	for _, migration := range available {
		number, _ := strconv.Atoi(migration.Version)
		byVersion[number] = migration
	}

	status := Status{Applied: applied}
	done := make(map[int]struct{}, len(applied))
	for _, record := range applied {
		number, err := strconv.Atoi(record.Version)
		if err != nil {
			return Status{}, NewMigrationError(record.Version, "", "read schema_migrations", fmt.Errorf("%w: non numeric version", ErrUnknownVersion))
		}
		file, ok := byVersion[number]
		if !ok {
			return Status{}, NewMigrationError(record.Version, "", "verify applied", ErrUnknownVersion)
		}
		if record.Checksum != "" && record.Checksum != file.Checksum {
			return Status{}, NewMigrationError(record.Version, file.FilePath, "verify checksum", ErrChecksumMismatch)
		}
		done[number] = struct{}{}
		status.CurrentVersion = record.Version
	}

	for _, migration := range available {
		number, _ := strconv.Atoi(migration.Version)
		if _, ok := done[number]; !ok {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}
