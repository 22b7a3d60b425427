package persistence

import "time"

// Room represents a meeting room catalog entry.
type Room struct {
	ID          string
	Name        string
	Location    string
	Capacity    int
	Resources   string
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Booking represents a reservation of one room for one interval.
type Booking struct {
	ID                string
	UserID            string
	OwnerEmail        string
	RoomID            string
	Start             time.Time
	End               time.Time
	Attendees         int
	RequiredResources string
	Recurrence        string
	RecurrenceEnd     *time.Time
	SeriesID          string
	RecurrenceGroup   string
	CreatedAt         time.Time
	CheckedIn         bool
	Cancelled         bool
	IsActive          bool
	CancelledAt       *time.Time
	CancelledBy       string
}

// TransitionKind identifies a conditional lifecycle update.
type TransitionKind string

const (
	// TransitionCheckIn marks the booking checked in.
	TransitionCheckIn TransitionKind = "check_in"
	// TransitionCancel is a user initiated cancellation that releases the room.
	TransitionCancel TransitionKind = "cancel"
	// TransitionAutoCancel is a sweeper cancellation that releases the room.
	TransitionAutoCancel TransitionKind = "auto_cancel"
)

// Transition describes a lifecycle update applied only while the booking is
// neither cancelled nor checked in.
type Transition struct {
	Kind TransitionKind
	At   time.Time
	By   string
}
