package persistence

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a check constraint rejects a record.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a referenced record is missing or still referenced.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrConflict is returned when a booking overlaps a non-cancelled booking for the same room.
	ErrConflict = errors.New("persistence: booking conflict")
)

// OverlapError identifies the slot of a write that hit an existing booking.
// Index is the position in the submitted batch, zero for single writes.
type OverlapError struct {
	Index  int
	RoomID string
	Start  time.Time
	End    time.Time
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("persistence: booking conflict for room %s at %s", e.RoomID, e.Start.UTC().Format(time.RFC3339))
}

func (e *OverlapError) Unwrap() error {
	return ErrConflict
}
