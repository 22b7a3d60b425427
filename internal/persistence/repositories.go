package persistence

import (
	"context"
	"time"
)

// RoomRepository exposes CRUD operations for rooms.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	UpdateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	DeleteRoom(ctx context.Context, id string) error
}

// BookingFilter narrows booking queries. Zero values do not filter.
type BookingFilter struct {
	UserID          string
	RoomID          string
	SeriesID        string
	RecurrenceGroup string
	// StartsAfter keeps bookings with Start strictly after the instant.
	StartsAfter *time.Time
	// StartsBefore keeps bookings with Start strictly before the instant.
	StartsBefore *time.Time
	// OverlapStart and OverlapEnd keep bookings intersecting [OverlapStart, OverlapEnd).
	OverlapStart     *time.Time
	OverlapEnd       *time.Time
	ExcludeCancelled bool
	ExcludeCheckedIn bool
}

// BookingRepository stores bookings and enforces the room overlap rule on
// every write. Results are ordered by start then id.
type BookingRepository interface {
	// CreateBooking inserts one booking, failing with *OverlapError when the
	// room is taken.
	CreateBooking(ctx context.Context, booking Booking) error
	// CreateBookings inserts every booking or none.
	CreateBookings(ctx context.Context, bookings []Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	// UpdateBooking rewrites a booking, re-checking overlaps against other bookings.
	UpdateBooking(ctx context.Context, booking Booking) error
	// UpdateBookings rewrites every booking or none.
	UpdateBookings(ctx context.Context, bookings []Booking) error
	DeleteBooking(ctx context.Context, id string) error
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	HasOverlap(ctx context.Context, roomID string, start, end time.Time, excludeID string) (bool, error)
	// TransitionBooking applies the transition only while the booking is still
	// scheduled and reports whether it did. Cancellations release the room in
	// the same write.
	TransitionBooking(ctx context.Context, id string, transition Transition) (bool, error)
}
