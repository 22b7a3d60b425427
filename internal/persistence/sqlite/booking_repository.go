package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/roombooking/internal/persistence"
)

// BookingRepository implements persistence.BookingRepository using SQLite.
//
// Every write runs in an immediate transaction that checks the room overlap
// rule before touching the table, so two writers cannot both claim a slot.
type BookingRepository struct {
	pool *ConnectionPool
}

// NewBookingRepository creates a new SQLite booking repository.
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const bookingColumns = `id, user_id, owner_email, room_id, start_time, end_time, attendees, required_resources,
	recurrence, recurrence_end, series_id, recurrence_group, created_at, checked_in, cancelled, is_active,
	cancelled_at, cancelled_by`

// CreateBooking inserts one booking.
func (r *BookingRepository) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	return r.CreateBookings(ctx, []persistence.Booking{booking})
}

// CreateBookings inserts every booking or none.
func (r *BookingRepository) CreateBookings(ctx context.Context, bookings []persistence.Booking) error {
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		for i, booking := range bookings {
			if err := checkBookingFields(booking); err != nil {
				return err
			}
			exists, err := bookingExists(ctx, tx, booking.ID)
			if err != nil {
				return err
			}
			if exists {
				return persistence.ErrDuplicate
			}
			if err := r.checkWritable(ctx, tx, i, booking, []string{booking.ID}); err != nil {
				return err
			}
			if err := insertBooking(ctx, tx, booking); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetBooking retrieves a booking by ID.
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	booking, err := scanBooking(row)
	if err != nil {
		return persistence.Booking{}, mapError(err)
	}
	return booking, nil
}

// UpdateBooking rewrites an existing booking.
func (r *BookingRepository) UpdateBooking(ctx context.Context, booking persistence.Booking) error {
	return r.UpdateBookings(ctx, []persistence.Booking{booking})
}

// UpdateBookings rewrites every booking or none. Rows later in the batch are
// not considered when checking earlier rows because they are about to move.
func (r *BookingRepository) UpdateBookings(ctx context.Context, bookings []persistence.Booking) error {
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, booking := range bookings {
			exists, err := bookingExists(ctx, tx, booking.ID)
			if err != nil {
				return err
			}
			if !exists {
				return persistence.ErrNotFound
			}
		}

		for i, booking := range bookings {
			if err := checkBookingFields(booking); err != nil {
				return err
			}
			pending := make([]string, 0, len(bookings)-i)
			for _, later := range bookings[i:] {
				pending = append(pending, later.ID)
			}
			if err := r.checkWritable(ctx, tx, i, booking, pending); err != nil {
				return err
			}
			if err := updateBooking(ctx, tx, booking); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteBooking removes a single booking.
func (r *BookingRepository) DeleteBooking(ctx context.Context, id string) error {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListBookings returns bookings matching filter ordered by start then id.
func (r *BookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		if arg != nil {
			args = append(args, arg)
		}
	}

	if filter.UserID != "" {
		add("user_id = ?", filter.UserID)
	}
	if filter.RoomID != "" {
		add("room_id = ?", filter.RoomID)
	}
	if filter.SeriesID != "" {
		add("series_id = ?", filter.SeriesID)
	}
	if filter.RecurrenceGroup != "" {
		add("recurrence_group = ?", filter.RecurrenceGroup)
	}
	if filter.StartsAfter != nil {
		add("start_time > ?", formatTime(*filter.StartsAfter))
	}
	if filter.StartsBefore != nil {
		add("start_time < ?", formatTime(*filter.StartsBefore))
	}
	if filter.OverlapStart != nil {
		add("end_time > ?", formatTime(*filter.OverlapStart))
	}
	if filter.OverlapEnd != nil {
		add("start_time < ?", formatTime(*filter.OverlapEnd))
	}
	if filter.ExcludeCancelled {
		add("cancelled = 0", nil)
	}
	if filter.ExcludeCheckedIn {
		add("checked_in = 0", nil)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time, id`

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	bookings := make([]persistence.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// HasOverlap reports whether a non-cancelled booking other than excludeID
// intersects [start, end) in the room.
func (r *BookingRepository) HasOverlap(ctx context.Context, roomID string, start, end time.Time, excludeID string) (bool, error) {
	return hasOverlap(ctx, r.pool.db, roomID, start, end, []string{excludeID})
}

// TransitionBooking applies transition while the booking is still scheduled.
func (r *BookingRepository) TransitionBooking(ctx context.Context, id string, transition persistence.Transition) (bool, error) {
	var applied bool
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var roomID string
		err := tx.QueryRowContext(ctx, `SELECT room_id FROM bookings WHERE id = ?`, id).Scan(&roomID)
		if err != nil {
			return mapError(err)
		}

		var result sql.Result
		switch transition.Kind {
		case persistence.TransitionCheckIn:
			result, err = tx.ExecContext(ctx, `
				UPDATE bookings SET checked_in = 1
				WHERE id = ? AND cancelled = 0 AND checked_in = 0`, id)
		case persistence.TransitionCancel, persistence.TransitionAutoCancel:
			by := ""
			if transition.Kind == persistence.TransitionCancel {
				by = transition.By
			}
			result, err = tx.ExecContext(ctx, `
				UPDATE bookings SET cancelled = 1, is_active = 0, cancelled_at = ?, cancelled_by = ?
				WHERE id = ? AND cancelled = 0 AND checked_in = 0`,
				formatTime(transition.At), by, id)
		default:
			return persistence.ErrConstraintViolation
		}
		if err != nil {
			return mapError(err)
		}

		n, err := rowsAffected(result)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		applied = true

		if transition.Kind != persistence.TransitionCheckIn {
			if _, err := tx.ExecContext(ctx, `UPDATE rooms SET is_available = 1 WHERE id = ?`, roomID); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *BookingRepository) checkWritable(ctx context.Context, tx *sql.Tx, index int, booking persistence.Booking, exclude []string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, booking.RoomID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrForeignKeyViolation
	}
	if err != nil {
		return mapError(err)
	}

	if booking.Cancelled {
		return nil
	}
	overlap, err := hasOverlap(ctx, tx, booking.RoomID, booking.Start, booking.End, exclude)
	if err != nil {
		return err
	}
	if overlap {
		return &persistence.OverlapError{Index: index, RoomID: booking.RoomID, Start: booking.Start, End: booking.End}
	}
	return nil
}

func hasOverlap(ctx context.Context, q queryer, roomID string, start, end time.Time, exclude []string) (bool, error) {
	query := `SELECT 1 FROM bookings WHERE room_id = ? AND cancelled = 0 AND start_time < ? AND end_time > ?`
	args := []any{roomID, formatTime(end), formatTime(start)}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(", ?", len(exclude)-1) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` LIMIT 1`

	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, mapError(err)
	}
	return true, nil
}

func checkBookingFields(booking persistence.Booking) error {
	if booking.ID == "" || booking.Attendees <= 0 || !booking.End.After(booking.Start) {
		return persistence.ErrConstraintViolation
	}
	return nil
}

func bookingExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, mapError(err)
	}
	return true, nil
}

func insertBooking(ctx context.Context, tx *sql.Tx, b persistence.Booking) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.OwnerEmail, b.RoomID,
		formatTime(b.Start), formatTime(b.End),
		b.Attendees, b.RequiredResources,
		recurrenceValue(b.Recurrence), nullableTime(b.RecurrenceEnd),
		b.SeriesID, b.RecurrenceGroup, formatTime(b.CreatedAt),
		boolToInt(b.CheckedIn), boolToInt(b.Cancelled), boolToInt(b.IsActive),
		nullableTime(b.CancelledAt), b.CancelledBy,
	)
	return mapError(err)
}

func updateBooking(ctx context.Context, tx *sql.Tx, b persistence.Booking) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET user_id = ?, owner_email = ?, room_id = ?, start_time = ?, end_time = ?, attendees = ?,
			required_resources = ?, recurrence = ?, recurrence_end = ?, series_id = ?, recurrence_group = ?,
			checked_in = ?, cancelled = ?, is_active = ?, cancelled_at = ?, cancelled_by = ?
		WHERE id = ?`,
		b.UserID, b.OwnerEmail, b.RoomID,
		formatTime(b.Start), formatTime(b.End),
		b.Attendees, b.RequiredResources,
		recurrenceValue(b.Recurrence), nullableTime(b.RecurrenceEnd),
		b.SeriesID, b.RecurrenceGroup,
		boolToInt(b.CheckedIn), boolToInt(b.Cancelled), boolToInt(b.IsActive),
		nullableTime(b.CancelledAt), b.CancelledBy,
		b.ID,
	)
	return mapError(err)
}

func scanBooking(row rowScanner) (persistence.Booking, error) {
	var (
		b             persistence.Booking
		start, end    string
		createdAt     string
		recurrenceEnd sql.NullString
		cancelledAt   sql.NullString
		checkedIn     int
		cancelled     int
		isActive      int
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.OwnerEmail, &b.RoomID, &start, &end, &b.Attendees, &b.RequiredResources,
		&b.Recurrence, &recurrenceEnd, &b.SeriesID, &b.RecurrenceGroup, &createdAt,
		&checkedIn, &cancelled, &isActive, &cancelledAt, &b.CancelledBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Booking{}, err
		}
		return persistence.Booking{}, fmt.Errorf("failed to scan booking: %w", err)
	}

	if b.Start, err = parseTime(start); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse booking start_time: %w", err)
	}
	if b.End, err = parseTime(end); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse booking end_time: %w", err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse booking created_at: %w", err)
	}
	if recurrenceEnd.Valid {
		t, err := parseTime(recurrenceEnd.String)
		if err != nil {
			return persistence.Booking{}, fmt.Errorf("failed to parse booking recurrence_end: %w", err)
		}
		b.RecurrenceEnd = &t
	}
	if cancelledAt.Valid {
		t, err := parseTime(cancelledAt.String)
		if err != nil {
			return persistence.Booking{}, fmt.Errorf("failed to parse booking cancelled_at: %w", err)
		}
		b.CancelledAt = &t
	}
	b.CheckedIn = checkedIn == 1
	b.Cancelled = cancelled == 1
	b.IsActive = isActive == 1
	return b, nil
}

func recurrenceValue(value string) string {
	if value == "" {
		return "none"
	}
	return value
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

