package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/roombooking/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store bundles the SQLite connection with the repositories built on it.
type Store struct {
	pool     *ConnectionPool
	rooms    *RoomRepository
	bookings *BookingRepository
	logger   *slog.Logger
}

// Open connects to the database described by cfg. Call Migrate before use.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewConnectionPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		pool:     pool,
		rooms:    NewRoomRepository(pool),
		bookings: NewBookingRepository(pool),
		logger:   logger.With("component", "sqlite"),
	}, nil
}

// Migrate applies pending schema migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewExecutor(s.pool.DB()),
		s.logger,
	)
	applied, err := manager.RunMigrations(ctx)
	if err != nil {
		return applied, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return applied, nil
}

// MigrationStatus reports applied and pending migrations.
func (s *Store) MigrationStatus(ctx context.Context) (migration.Status, error) {
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewExecutor(s.pool.DB()),
		s.logger,
	)
	return manager.Status(ctx)
}

// Rooms returns the room repository.
func (s *Store) Rooms() *RoomRepository { return s.rooms }

// Bookings returns the booking repository.
func (s *Store) Bookings() *BookingRepository { return s.bookings }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the database connection.
func (s *Store) Close() error { return s.pool.Close() }
