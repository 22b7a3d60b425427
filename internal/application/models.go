package application

import (
	"context"
	"time"

	"github.com/example/roombooking/internal/lifecycle"
	"github.com/example/roombooking/internal/notify"
	"github.com/example/roombooking/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// RoomInput captures caller provided room fields.
type RoomInput struct {
	Name      string
	Location  string
	Capacity  int
	Resources string
	// IsAvailable defaults to true on create and is left unchanged on update when nil.
	IsAvailable *bool
}

// CreateRoomParams wraps the data required to create a room.
type CreateRoomParams struct {
	Principal Principal
	Input     RoomInput
}

// UpdateRoomParams wraps the data required to update an existing room.
type UpdateRoomParams struct {
	Principal Principal
	RoomID    string
	Input     RoomInput
}

// BookingInput captures caller provided booking fields.
type BookingInput struct {
	RoomID            string
	Start             time.Time
	End               time.Time
	Attendees         int
	RequiredResources string
	Recurrence        string
	RecurrenceEnd     *time.Time
}

// CreateBookingParams wraps the data required to create a booking or a series.
type CreateBookingParams struct {
	Principal Principal
	Input     BookingInput
}

// CreateBookingResult lists the rows written by one request.
type CreateBookingResult struct {
	Bookings []persistence.Booking
	SeriesID string
}

// UpdateOccurrenceParams edits one occurrence. NewDate moves the booking to
// another calendar day keeping its time of day. Attendees changes the head
// count, for the whole recurrence group when ApplyToGroup is set.
type UpdateOccurrenceParams struct {
	Principal    Principal
	BookingID    string
	NewDate      *time.Time
	Attendees    *int
	ApplyToGroup bool
}

// BookingView decorates a booking with read-time lifecycle state.
type BookingView struct {
	Booking         persistence.Booking
	RoomName        string
	Status          lifecycle.Status
	State           lifecycle.State
	CheckInAllowed  bool
	CanCancel       bool
	RecurrenceDates []time.Time
}

// RoomBookings groups a user's bookings in one room.
type RoomBookings struct {
	Room     persistence.Room
	Bookings []BookingView
}

// AvailabilityQuery carries raw availability filters as received from callers.
type AvailabilityQuery struct {
	Start       string
	End         string
	MinCapacity string
	Resources   string
}

// RoomUsage counts bookings per room.
type RoomUsage struct {
	RoomID       string
	RoomName     string
	BookingCount int
}

// RoomOccupancy is the average attendees to capacity ratio of a room.
type RoomOccupancy struct {
	RoomID           string
	RoomName         string
	AverageOccupancy float64
}

// HeatmapCell counts active bookings starting in one weekday and hour.
type HeatmapCell struct {
	Weekday time.Weekday
	Hour    int
	Count   int
}

// AnalyticsReport summarizes usage across all rooms.
type AnalyticsReport struct {
	TopRooms             []RoomUsage
	Occupancy            []RoomOccupancy
	Heatmap              []HeatmapCell
	AutoCancelledPercent float64
}

// Locker serializes writes to one room.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Notifier delivers best-effort messages.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

// Recorder receives booking counters.
type Recorder interface {
	BookingsCreated(kind string, n int)
	BookingRejected(reason string)
	CheckedIn()
	Cancelled(source string)
}

// CacheInvalidator is notified after every booking or room write.
type CacheInvalidator interface {
	Invalidate()
}

type nopRecorder struct{}

func (nopRecorder) BookingsCreated(string, int) {}
func (nopRecorder) BookingRejected(string)      {}
func (nopRecorder) CheckedIn()                  {}
func (nopRecorder) Cancelled(string)            {}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, notify.Message) error { return nil }

func snapshotOf(b persistence.Booking) lifecycle.Snapshot {
	return lifecycle.Snapshot{
		Start:       b.Start,
		End:         b.End,
		CheckedIn:   b.CheckedIn,
		Cancelled:   b.Cancelled,
		CancelledBy: b.CancelledBy,
	}
}
