// Package memory provides an in-process implementation of the persistence
// repositories for tests and single-node deployments without a database file.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/scheduler"
)

// Storage keeps rooms and bookings in maps guarded by a single lock, so every
// check-then-write below is serialized.
type Storage struct {
	mu       sync.RWMutex
	rooms    map[string]persistence.Room
	bookings map[string]persistence.Booking
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		rooms:    make(map[string]persistence.Room),
		bookings: make(map[string]persistence.Booking),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Ping reports storage health. Always nil for the in-memory implementation.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// --- RoomRepository implementation ---

// CreateRoom stores a new room.
func (s *Storage) CreateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.ID]; ok {
		return persistence.ErrDuplicate
	}
	if err := s.ensureUniqueRoomLocked(room); err != nil {
		return err
	}

	s.rooms[room.ID] = room
	return nil
}

// UpdateRoom updates an existing room.
func (s *Storage) UpdateRoom(ctx context.Context, room persistence.Room) error {
	if room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.ID]; !ok {
		return persistence.ErrNotFound
	}
	if err := s.ensureUniqueRoomLocked(room); err != nil {
		return err
	}

	s.rooms[room.ID] = room
	return nil
}

// GetRoom retrieves a room by ID.
func (s *Storage) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return room, nil
}

// ListRooms returns all rooms ordered by name then ID.
func (s *Storage) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]persistence.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name == rooms[j].Name {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Name < rooms[j].Name
	})
	return rooms, nil
}

// DeleteRoom removes a room and the bookings referencing it.
func (s *Storage) DeleteRoom(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return persistence.ErrNotFound
	}

	delete(s.rooms, id)
	for bookingID, booking := range s.bookings {
		if booking.RoomID == id {
			delete(s.bookings, bookingID)
		}
	}
	return nil
}

func (s *Storage) ensureUniqueRoomLocked(room persistence.Room) error {
	name := normalizeKey(room.Name)
	location := normalizeKey(room.Location)
	for id, existing := range s.rooms {
		if id == room.ID {
			continue
		}
		if normalizeKey(existing.Name) == name && normalizeKey(existing.Location) == location {
			return persistence.ErrDuplicate
		}
	}
	return nil
}

// --- BookingRepository implementation ---

// CreateBooking stores a booking after checking the room overlap rule.
func (s *Storage) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	return s.CreateBookings(ctx, []persistence.Booking{booking})
}

// CreateBookings stores every booking or none.
func (s *Storage) CreateBookings(ctx context.Context, bookings []persistence.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBatchLocked(bookings, true); err != nil {
		return err
	}
	for _, booking := range bookings {
		s.bookings[booking.ID] = cloneBooking(booking)
	}
	return nil
}

// GetBooking retrieves a booking by ID.
func (s *Storage) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, ok := s.bookings[id]
	if !ok {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	return cloneBooking(booking), nil
}

// UpdateBooking rewrites an existing booking.
func (s *Storage) UpdateBooking(ctx context.Context, booking persistence.Booking) error {
	return s.UpdateBookings(ctx, []persistence.Booking{booking})
}

// UpdateBookings rewrites every booking or none.
func (s *Storage) UpdateBookings(ctx context.Context, bookings []persistence.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, booking := range bookings {
		if _, ok := s.bookings[booking.ID]; !ok {
			return persistence.ErrNotFound
		}
	}
	if err := s.checkBatchLocked(bookings, false); err != nil {
		return err
	}
	for _, booking := range bookings {
		s.bookings[booking.ID] = cloneBooking(booking)
	}
	return nil
}

// DeleteBooking removes a single booking.
func (s *Storage) DeleteBooking(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.bookings, id)
	return nil
}

// ListBookings returns bookings matching the filter ordered by start then ID.
func (s *Storage) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Booking, 0)
	for _, booking := range s.bookings {
		if matches(booking, filter) {
			result = append(result, cloneBooking(booking))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Start.Equal(result[j].Start) {
			return result[i].ID < result[j].ID
		}
		return result[i].Start.Before(result[j].Start)
	})
	return result, nil
}

// HasOverlap reports whether a non-cancelled booking other than excludeID
// intersects [start, end) in the room.
func (s *Storage) HasOverlap(ctx context.Context, roomID string, start, end time.Time, excludeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidate := scheduler.Slot{ID: excludeID, RoomID: roomID, Start: start, End: end}
	return len(scheduler.DetectConflicts(s.slotsLocked(), candidate)) > 0, nil
}

// TransitionBooking applies the transition while the booking is still scheduled.
func (s *Storage) TransitionBooking(ctx context.Context, id string, transition persistence.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[id]
	if !ok {
		return false, persistence.ErrNotFound
	}
	if booking.Cancelled || booking.CheckedIn {
		return false, nil
	}

	switch transition.Kind {
	case persistence.TransitionCheckIn:
		booking.CheckedIn = true
	case persistence.TransitionCancel, persistence.TransitionAutoCancel:
		at := transition.At
		booking.Cancelled = true
		booking.IsActive = false
		booking.CancelledAt = &at
		booking.CancelledBy = ""
		if transition.Kind == persistence.TransitionCancel {
			booking.CancelledBy = transition.By
		}
		if room, ok := s.rooms[booking.RoomID]; ok {
			room.IsAvailable = true
			s.rooms[room.ID] = room
		}
	default:
		return false, persistence.ErrConstraintViolation
	}

	s.bookings[id] = booking
	return true, nil
}

// checkBatchLocked validates a write batch against stored bookings and against
// itself. Stored rows sharing an ID with a batch entry are replaced, not compared.
func (s *Storage) checkBatchLocked(batch []persistence.Booking, inserting bool) error {
	replaced := make(map[string]struct{}, len(batch))
	for _, booking := range batch {
		replaced[booking.ID] = struct{}{}
	}

	existing := make([]scheduler.Slot, 0, len(s.bookings))
	for _, slot := range s.slotsLocked() {
		if _, ok := replaced[slot.ID]; !ok {
			existing = append(existing, slot)
		}
	}

	for i, booking := range batch {
		if booking.ID == "" || booking.Attendees <= 0 || !booking.End.After(booking.Start) {
			return persistence.ErrConstraintViolation
		}
		if inserting {
			if _, dup := s.bookings[booking.ID]; dup {
				return persistence.ErrDuplicate
			}
		}
		if _, ok := s.rooms[booking.RoomID]; !ok {
			return persistence.ErrForeignKeyViolation
		}

		slot := slotOf(booking)
		if !booking.Cancelled && len(scheduler.DetectConflicts(existing, slot)) > 0 {
			return &persistence.OverlapError{Index: i, RoomID: booking.RoomID, Start: booking.Start, End: booking.End}
		}
		existing = append(existing, slot)
	}
	return nil
}

func (s *Storage) slotsLocked() []scheduler.Slot {
	slots := make([]scheduler.Slot, 0, len(s.bookings))
	for _, booking := range s.bookings {
		slots = append(slots, slotOf(booking))
	}
	return slots
}

func slotOf(booking persistence.Booking) scheduler.Slot {
	return scheduler.Slot{
		ID:        booking.ID,
		RoomID:    booking.RoomID,
		Start:     booking.Start,
		End:       booking.End,
		Cancelled: booking.Cancelled,
	}
}

func matches(booking persistence.Booking, filter persistence.BookingFilter) bool {
	switch {
	case filter.UserID != "" && booking.UserID != filter.UserID:
		return false
	case filter.RoomID != "" && booking.RoomID != filter.RoomID:
		return false
	case filter.SeriesID != "" && booking.SeriesID != filter.SeriesID:
		return false
	case filter.RecurrenceGroup != "" && booking.RecurrenceGroup != filter.RecurrenceGroup:
		return false
	case filter.StartsAfter != nil && !booking.Start.After(*filter.StartsAfter):
		return false
	case filter.StartsBefore != nil && !booking.Start.Before(*filter.StartsBefore):
		return false
	case filter.OverlapStart != nil && !booking.End.After(*filter.OverlapStart):
		return false
	case filter.OverlapEnd != nil && !booking.Start.Before(*filter.OverlapEnd):
		return false
	case filter.ExcludeCancelled && booking.Cancelled:
		return false
	case filter.ExcludeCheckedIn && booking.CheckedIn:
		return false
	}
	return true
}

func cloneBooking(booking persistence.Booking) persistence.Booking {
	clone := booking
	if booking.RecurrenceEnd != nil {
		end := *booking.RecurrenceEnd
		clone.RecurrenceEnd = &end
	}
	if booking.CancelledAt != nil {
		at := *booking.CancelledAt
		clone.CancelledAt = &at
	}
	return clone
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
