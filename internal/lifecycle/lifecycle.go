// Package lifecycle holds the time-windowed booking state machine.
//
// Every function is pure: callers pass the booking snapshot and the current
// instant, and persist the returned transition themselves.
package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

const (
	// CheckInWindow is how long after start a booking may still be checked in.
	// Past it, an unchecked booking is eligible for auto-cancellation.
	CheckInWindow = 10 * time.Minute
	// CancellationNotice is the minimum lead time for a manual cancellation.
	CancellationNotice = 15 * time.Minute
	// MinimumDuration is the shortest bookable interval.
	MinimumDuration = 30 * time.Minute
)

var (
	// ErrCheckInWindowClosed is returned for check-in attempts outside [start, start+CheckInWindow].
	ErrCheckInWindowClosed = errors.New("lifecycle: check-in window is closed")
	// ErrCancellationTooLate is returned when less than CancellationNotice remains before start.
	ErrCancellationTooLate = errors.New("lifecycle: cancellation notice period has passed")
	// ErrAlreadyCancelled is returned for transitions on a cancelled booking.
	ErrAlreadyCancelled = errors.New("lifecycle: booking already cancelled")
	// ErrAlreadyCheckedIn is returned for transitions on a checked-in booking.
	ErrAlreadyCheckedIn = errors.New("lifecycle: booking already checked in")
)

// State is the stored lifecycle position of a booking.
type State string

const (
	StateScheduled     State = "scheduled"
	StateCheckedIn     State = "checked_in"
	StateCancelled     State = "cancelled"
	StateAutoCancelled State = "auto_cancelled"
)

// Status is the display label derived on read.
type Status string

const (
	StatusActive    Status = "active"
	StatusCheckedIn Status = "checked_in"
	StatusMissed    Status = "missed"
	StatusCancelled Status = "cancelled"
)

// Snapshot is the subset of booking fields the state machine reads.
type Snapshot struct {
	Start       time.Time
	End         time.Time
	CheckedIn   bool
	Cancelled   bool
	CancelledBy string
}

// TransitionError reports a rejected transition. It unwraps to one of the
// package sentinels. Reason carries a diagnostic detail for logs and is never
// part of the message.
type TransitionError struct {
	Action string
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.Action, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func reject(action string, err error) error {
	return &TransitionError{Action: action, Err: err}
}

// Reasons attached to ErrCheckInWindowClosed.
const (
	ReasonTooEarly = "too_early"
	ReasonTooLate  = "too_late"
)

// StateOf derives the stored state from the booking flags. A cancellation
// without a cancelling user was performed by the sweeper.
func StateOf(s Snapshot) State {
	switch {
	case s.Cancelled && s.CancelledBy == "" && !s.CheckedIn:
		return StateAutoCancelled
	case s.Cancelled:
		return StateCancelled
	case s.CheckedIn:
		return StateCheckedIn
	default:
		return StateScheduled
	}
}

// StatusOf returns the display status; evaluation order matters.
func StatusOf(s Snapshot, now time.Time) Status {
	switch {
	case s.Cancelled:
		return StatusCancelled
	case s.CheckedIn:
		return StatusCheckedIn
	case now.After(s.End):
		return StatusMissed
	default:
		return StatusActive
	}
}

// CheckInAllowed reports whether now falls inside the check-in window.
func CheckInAllowed(s Snapshot, now time.Time) bool {
	return CheckIn(s, now) == nil
}

// CheckIn validates the Scheduled to CheckedIn transition. Early and late
// attempts fail with the same error.
func CheckIn(s Snapshot, now time.Time) error {
	switch {
	case s.Cancelled:
		return reject("check-in", ErrAlreadyCancelled)
	case s.CheckedIn:
		return reject("check-in", ErrAlreadyCheckedIn)
	case now.Before(s.Start):
		return &TransitionError{Action: "check-in", Reason: ReasonTooEarly, Err: ErrCheckInWindowClosed}
	case now.After(s.Start.Add(CheckInWindow)):
		return &TransitionError{Action: "check-in", Reason: ReasonTooLate, Err: ErrCheckInWindowClosed}
	}
	return nil
}

// CanCancel reports whether a manual cancellation would be accepted at now.
func CanCancel(s Snapshot, now time.Time) bool {
	return Cancel(s, now) == nil
}

// Cancel validates the user initiated Scheduled to Cancelled transition.
// Exactly CancellationNotice of lead time is accepted.
func Cancel(s Snapshot, now time.Time) error {
	switch {
	case s.Cancelled:
		return reject("cancel", ErrAlreadyCancelled)
	case s.CheckedIn:
		return reject("cancel", ErrAlreadyCheckedIn)
	case s.Start.Sub(now) < CancellationNotice:
		return reject("cancel", ErrCancellationTooLate)
	}
	return nil
}

// ShouldAutoCancel reports whether the sweeper must cancel the booking.
func ShouldAutoCancel(s Snapshot, now time.Time) bool {
	return !s.Cancelled && !s.CheckedIn && now.After(s.Start.Add(CheckInWindow))
}

// AutoCancelCutoff returns the start instant before which unchecked bookings
// are swept at now.
func AutoCancelCutoff(now time.Time) time.Time {
	return now.Add(-CheckInWindow)
}
