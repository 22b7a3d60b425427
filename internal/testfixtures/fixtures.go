package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/roombooking/internal/persistence"
)

var (
	roomCounter    uint64
	bookingCounter uint64
)

var referenceTime = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline instant used by fixtures: a
// Monday morning on a whole minute.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Room fixtures -----------------------------

// RoomOption configures a generated room.
type RoomOption func(*persistence.Room)

// NewRoom returns a distinct available room with optional overrides.
func NewRoom(opts ...RoomOption) persistence.Room {
	idx := atomic.AddUint64(&roomCounter, 1)
	room := persistence.Room{
		ID:          fmt.Sprintf("room-%03d", idx),
		Name:        fmt.Sprintf("Room %03d", idx),
		Location:    "HQ",
		Capacity:    8,
		Resources:   "Projector, Whiteboard",
		IsAvailable: true,
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&room)
	}
	return room
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(r *persistence.Room) { r.ID = id }
}

// WithRoomName overrides the generated name.
func WithRoomName(name string) RoomOption {
	return func(r *persistence.Room) { r.Name = name }
}

// WithRoomLocation overrides the location.
func WithRoomLocation(location string) RoomOption {
	return func(r *persistence.Room) { r.Location = location }
}

// WithRoomCapacity overrides the capacity.
func WithRoomCapacity(capacity int) RoomOption {
	return func(r *persistence.Room) { r.Capacity = capacity }
}

// WithRoomResources overrides the free text resource list.
func WithRoomResources(resources string) RoomOption {
	return func(r *persistence.Room) { r.Resources = resources }
}

// WithRoomUnavailable clears the availability flag.
func WithRoomUnavailable() RoomOption {
	return func(r *persistence.Room) { r.IsAvailable = false }
}

// --------------------------- Booking fixtures ----------------------------

// BookingOption configures a generated booking.
type BookingOption func(*persistence.Booking)

// NewBooking returns a distinct one hour booking starting one day after
// ReferenceTime, owned by "user-1" in "room-1".
func NewBooking(opts ...BookingOption) persistence.Booking {
	idx := atomic.AddUint64(&bookingCounter, 1)
	start := referenceTime.Add(24 * time.Hour)
	booking := persistence.Booking{
		ID:         fmt.Sprintf("booking-%03d", idx),
		UserID:     "user-1",
		OwnerEmail: "user-1@example.com",
		RoomID:     "room-1",
		Start:      start,
		End:        start.Add(time.Hour),
		Attendees:  2,
		Recurrence: "none",
		CreatedAt:  referenceTime,
		IsActive:   true,
	}
	for _, opt := range opts {
		opt(&booking)
	}
	return booking
}

// WithBookingID overrides the generated booking ID.
func WithBookingID(id string) BookingOption {
	return func(b *persistence.Booking) { b.ID = id }
}

// WithBookingOwner sets the owning user and contact address.
func WithBookingOwner(userID, email string) BookingOption {
	return func(b *persistence.Booking) {
		b.UserID = userID
		b.OwnerEmail = email
	}
}

// WithBookingRoom sets the booked room.
func WithBookingRoom(roomID string) BookingOption {
	return func(b *persistence.Booking) { b.RoomID = roomID }
}

// WithBookingInterval sets start and end.
func WithBookingInterval(start, end time.Time) BookingOption {
	return func(b *persistence.Booking) {
		b.Start = start
		b.End = end
	}
}

// WithBookingStartIn places a booking of duration d starting offset after ReferenceTime.
func WithBookingStartIn(offset, d time.Duration) BookingOption {
	return func(b *persistence.Booking) {
		b.Start = referenceTime.Add(offset)
		b.End = b.Start.Add(d)
	}
}

// WithBookingAttendees sets the attendee count.
func WithBookingAttendees(n int) BookingOption {
	return func(b *persistence.Booking) { b.Attendees = n }
}

// WithBookingSeries marks the booking as an occurrence of a series.
func WithBookingSeries(seriesID, group, kind string, until time.Time) BookingOption {
	return func(b *persistence.Booking) {
		b.SeriesID = seriesID
		b.RecurrenceGroup = group
		b.Recurrence = kind
		b.RecurrenceEnd = &until
	}
}

// WithBookingCheckedIn marks the booking as attended.
func WithBookingCheckedIn() BookingOption {
	return func(b *persistence.Booking) { b.CheckedIn = true }
}

// WithBookingCancelled marks the booking cancelled at at by userID; an empty
// userID records a sweeper cancellation.
func WithBookingCancelled(at time.Time, userID string) BookingOption {
	return func(b *persistence.Booking) {
		b.Cancelled = true
		b.IsActive = false
		b.CancelledAt = &at
		b.CancelledBy = userID
	}
}
