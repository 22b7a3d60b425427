package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/persistence/memory"
	"github.com/example/roombooking/internal/persistence/sqlite"
)

// StorageHarness exposes repositories backed by one storage implementation.
type StorageHarness struct {
	Name     string
	Rooms    persistence.RoomRepository
	Bookings persistence.BookingRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *StorageHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// SeedRooms stores rooms, failing the test on error.
func (h *StorageHarness) SeedRooms(tb testing.TB, rooms ...persistence.Room) {
	tb.Helper()
	for _, room := range rooms {
		if err := h.Rooms.CreateRoom(context.Background(), room); err != nil {
			tb.Fatalf("seed room %s: %v", room.ID, err)
		}
	}
}

// SeedBookings stores bookings, failing the test on error.
func (h *StorageHarness) SeedBookings(tb testing.TB, bookings ...persistence.Booking) {
	tb.Helper()
	if err := h.Bookings.CreateBookings(context.Background(), bookings); err != nil {
		tb.Fatalf("seed bookings: %v", err)
	}
}

// NewSQLiteHarness opens a migrated SQLite database in a temporary directory.
// Close is registered with tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *StorageHarness {
	tb.Helper()

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "roombooking.db")
	store, err := sqlite.Open(ctx, sqlite.DefaultConfig(path), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if _, err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &StorageHarness{
		Name:     "sqlite",
		Rooms:    store.Rooms(),
		Bookings: store.Bookings(),
		cleanup: func() {
			_ = store.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// NewMemoryHarness returns repositories backed by the in-memory store.
func NewMemoryHarness(tb testing.TB) *StorageHarness {
	tb.Helper()
	store := memory.New()
	harness := &StorageHarness{
		Name:     "memory",
		Rooms:    store,
		Bookings: store,
		cleanup: func() {
			_ = store.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// StorageBackends lists a constructor per storage implementation so tests
// can run the same scenarios against each.
func StorageBackends() []func(testing.TB) *StorageHarness {
	return []func(testing.TB) *StorageHarness{NewMemoryHarness, NewSQLiteHarness}
}
