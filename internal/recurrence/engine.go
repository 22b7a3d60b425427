package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind represents supported recurrence intervals.
type Kind string

const (
	// KindNone marks a one-off booking.
	KindNone Kind = "none"
	// KindDaily repeats every calendar day.
	KindDaily Kind = "daily"
	// KindWeekly repeats every seven days.
	KindWeekly Kind = "weekly"
	// KindMonthly repeats on the same day of each month, clamped to the month length.
	KindMonthly Kind = "monthly"
)

// MaxOccurrences bounds the number of dates a single series may expand to.
const MaxOccurrences = 366

var (
	// ErrUnknownKind indicates the recurrence kind is not supported.
	ErrUnknownKind = errors.New("recurrence: unknown kind")
	// ErrMissingEnd indicates a recurring request without an end date.
	ErrMissingEnd = errors.New("recurrence: end date is required")
	// ErrInvalidDuration indicates the base slot duration is not positive.
	ErrInvalidDuration = errors.New("recurrence: slot duration must be positive")
	// ErrTooManyOccurrences indicates the expansion exceeds MaxOccurrences.
	ErrTooManyOccurrences = errors.New("recurrence: too many occurrences")
)

// ParseKind maps user input onto a Kind. Empty input is treated as KindNone.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case "", KindNone:
		return KindNone, nil
	case KindDaily:
		return KindDaily, nil
	case KindWeekly:
		return KindWeekly, nil
	case KindMonthly:
		return KindMonthly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
	}
}

// Recurring reports whether the kind produces more than one occurrence.
func (k Kind) Recurring() bool {
	return k == KindDaily || k == KindWeekly || k == KindMonthly
}

// Slot is a concrete half-open [Start, End) interval produced for one occurrence.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Engine expands recurrence rules into calendar dates and slots.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that interprets calendar dates in loc.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the zone calendar dates are evaluated in.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// Expand returns every occurrence date from start through until, both inclusive.
//
// Dates are returned as midnight in the engine location. Monthly expansion keeps
// the day of month of start and clamps it to the last day of shorter months; the
// clamp never carries over, so Jan 31 yields Feb 28 then Mar 31. KindNone, an
// unknown kind, or a nil until all produce an empty result.
func (e *Engine) Expand(start time.Time, kind Kind, until *time.Time) []time.Time {
	if until == nil || !kind.Recurring() {
		return nil
	}

	loc := e.Location()
	first := dateOf(start, loc)
	last := dateOf(*until, loc)
	if last.Before(first) {
		return nil
	}

	y, m, d := first.Date()
	dates := make([]time.Time, 0)
	for i := 0; ; i++ {
		var current time.Time
		switch kind {
		case KindDaily:
			current = time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		case KindWeekly:
			current = time.Date(y, m, d+7*i, 0, 0, 0, 0, loc)
		case KindMonthly:
			current = addMonthsClamped(y, m, d, i, loc)
		}
		if current.After(last) {
			break
		}
		dates = append(dates, current)
		// Stop one past the cap so callers can detect overflow.
		if len(dates) > MaxOccurrences {
			break
		}
	}
	return dates
}

// Slots expands a base [start, end) interval into one slot per occurrence date,
// keeping the wall clock time of day and the duration of the base interval.
// KindNone yields the base interval alone.
func (e *Engine) Slots(start, end time.Time, kind Kind, until *time.Time) ([]Slot, error) {
	if !end.After(start) {
		return nil, ErrInvalidDuration
	}
	switch {
	case kind == KindNone || kind == "":
		return []Slot{{Start: start, End: end}}, nil
	case !kind.Recurring():
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	case until == nil:
		return nil, ErrMissingEnd
	}

	dates := e.Expand(start, kind, until)
	if len(dates) > MaxOccurrences {
		return nil, ErrTooManyOccurrences
	}

	slots := make([]Slot, 0, len(dates))
	for _, date := range dates {
		s, en := e.MoveToDate(start, end, date)
		slots = append(slots, Slot{Start: s, End: en})
	}
	return slots, nil
}

// MoveToDate shifts the interval onto date, keeping time of day and duration.
func (e *Engine) MoveToDate(start, end, date time.Time) (time.Time, time.Time) {
	loc := e.Location()
	duration := end.Sub(start)
	clock := start.In(loc)
	y, m, d := date.In(loc).Date()
	moved := time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), loc)
	return moved, moved.Add(duration)
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func addMonthsClamped(year int, month time.Month, day, offset int, loc *time.Location) time.Time {
	total := int(month) - 1 + offset
	targetYear := year + total/12
	targetMonth := time.Month(total%12 + 1)
	if last := daysIn(targetYear, targetMonth, loc); day > last {
		day = last
	}
	return time.Date(targetYear, targetMonth, day, 0, 0, 0, 0, loc)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
