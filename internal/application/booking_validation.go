package application

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/roombooking/internal/lifecycle"
	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/recurrence"
)

// bookingCandidate is everything the pure booking rules look at.
type bookingCandidate struct {
	Room              *persistence.Room
	Start             time.Time
	End               time.Time
	Attendees         int
	RequiredResources string
	Kind              recurrence.Kind
	KindErr           error
	RecurrenceEnd     *time.Time
	Now               time.Time
	Location          *time.Location
	// Editing relaxes the room availability flag for bookings that already exist.
	Editing bool
}

// bookingRule reports a message for its field, or "" when the candidate passes.
type bookingRule struct {
	field string
	check func(c bookingCandidate) string
}

// bookingRules run in order and every failure is reported. The conflict check
// is not part of the list; it needs storage and runs only once these pass.
var bookingRules = []bookingRule{
	{field: "room_id", check: checkRoom},
	{field: "time", check: checkTimeRange},
	{field: "start", check: checkFutureStart},
	{field: "recurrence", check: checkRecurrenceKind},
	{field: "recurrence_end", check: checkRecurrenceEnd},
	{field: "attendees", check: checkAttendees},
	{field: "required_resources", check: checkRequiredResources},
}

func validateBooking(c bookingCandidate) *ValidationError {
	vErr := &ValidationError{}
	for _, rule := range bookingRules {
		if msg := rule.check(c); msg != "" {
			vErr.add(rule.field, msg)
		}
	}
	return vErr
}

func checkRoom(c bookingCandidate) string {
	switch {
	case c.Room == nil:
		return "room does not exist"
	case !c.Room.IsAvailable && !c.Editing:
		return "room is not available for booking"
	}
	return ""
}

func checkTimeRange(c bookingCandidate) string {
	switch {
	case c.Start.IsZero() || c.End.IsZero():
		return "start and end times are required"
	case !c.End.After(c.Start):
		return "end time must be after start time"
	case c.End.Sub(c.Start) < lifecycle.MinimumDuration:
		return fmt.Sprintf("booking must last at least %d minutes", int(lifecycle.MinimumDuration/time.Minute))
	}
	return ""
}

func checkFutureStart(c bookingCandidate) string {
	if !c.Start.IsZero() && !c.Start.After(c.Now) {
		return "booking must be in the future"
	}
	return ""
}

func checkRecurrenceKind(c bookingCandidate) string {
	if c.KindErr != nil {
		return "recurrence must be one of none, daily, weekly, monthly"
	}
	return ""
}

func checkRecurrenceEnd(c bookingCandidate) string {
	if c.KindErr != nil || !c.Kind.Recurring() {
		return ""
	}
	if c.RecurrenceEnd == nil {
		return "recurrence end date is required for recurring bookings"
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	if calendarDay(*c.RecurrenceEnd, loc).Before(calendarDay(c.Start, loc)) {
		return "recurrence end date must not be before the start date"
	}
	return ""
}

func checkAttendees(c bookingCandidate) string {
	switch {
	case c.Attendees < 1:
		return "at least one attendee is required"
	case c.Room != nil && c.Attendees > c.Room.Capacity:
		return "room does not have enough capacity"
	}
	return ""
}

func checkRequiredResources(c bookingCandidate) string {
	required := strings.ToLower(strings.TrimSpace(c.RequiredResources))
	if required == "" || c.Room == nil {
		return ""
	}
	if !strings.Contains(strings.ToLower(c.Room.Resources), required) {
		return "requested resource not available in room"
	}
	return ""
}

// seriesSizeError converts an oversized expansion into a field error.
func seriesSizeError(err error) *ValidationError {
	if errors.Is(err, recurrence.ErrTooManyOccurrences) {
		return fieldError("recurrence_end", fmt.Sprintf("a series may not exceed %d occurrences", recurrence.MaxOccurrences))
	}
	return fieldError("recurrence", err.Error())
}

func calendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
