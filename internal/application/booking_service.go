package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/roombooking/internal/lifecycle"
	"github.com/example/roombooking/internal/lock"
	"github.com/example/roombooking/internal/notify"
	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/recurrence"
)

// BookingService runs the booking lifecycle: creation of single bookings and
// series, check-in, cancellation, occurrence edits and per-user listing.
type BookingService struct {
	bookings    persistence.BookingRepository
	rooms       persistence.RoomRepository
	engine      *recurrence.Engine
	locker      Locker
	notifier    Notifier
	recorder    Recorder
	caches      []CacheInvalidator
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// BookingServiceOption configures optional collaborators.
type BookingServiceOption func(*BookingService)

// WithEngine sets the recurrence engine and therefore the calendar time zone.
func WithEngine(engine *recurrence.Engine) BookingServiceOption {
	return func(s *BookingService) {
		if engine != nil {
			s.engine = engine
		}
	}
}

// WithLocker serializes writes per room.
func WithLocker(locker Locker) BookingServiceOption {
	return func(s *BookingService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithNotifier sets the confirmation sender.
func WithNotifier(notifier Notifier) BookingServiceOption {
	return func(s *BookingService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(recorder Recorder) BookingServiceOption {
	return func(s *BookingService) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// WithCacheInvalidator registers a cache flushed after every write.
func WithCacheInvalidator(cache CacheInvalidator) BookingServiceOption {
	return func(s *BookingService) {
		if cache != nil {
			s.caches = append(s.caches, cache)
		}
	}
}

// NewBookingService constructs a booking service with the provided dependencies.
func NewBookingService(bookings persistence.BookingRepository, rooms persistence.RoomRepository, idGenerator func() string, now func() time.Time, opts ...BookingServiceOption) *BookingService {
	return NewBookingServiceWithLogger(bookings, rooms, idGenerator, now, nil, opts...)
}

// NewBookingServiceWithLogger constructs a booking service with a specified logger.
func NewBookingServiceWithLogger(bookings persistence.BookingRepository, rooms persistence.RoomRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger, opts ...BookingServiceOption) *BookingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	s := &BookingService{
		bookings:    bookings,
		rooms:       rooms,
		engine:      recurrence.NewEngine(time.UTC),
		locker:      lock.Nop{},
		notifier:    nopNotifier{},
		recorder:    nopRecorder{},
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

// CreateBooking validates the request and persists one booking, or a whole
// series when a recurrence is requested. Nothing is written on failure.
func (s *BookingService) CreateBooking(ctx context.Context, params CreateBookingParams) (result CreateBookingResult, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil || s.rooms == nil {
		err = fmt.Errorf("booking repositories not configured")
		return
	}

	input := params.Input
	logger := s.loggerWith(ctx, "CreateBooking",
		"principal_id", params.Principal.UserID,
		"room_id", input.RoomID,
		"recurrence", input.Recurrence,
	)
	defer func() {
		if err != nil {
			s.recorder.BookingRejected(ErrorKind(err))
			logger.ErrorContext(ctx, "failed to create booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("booking_id", result.Bookings[0].ID, "booking_count", len(result.Bookings), "series_id", result.SeriesID).
			InfoContext(ctx, "booking created")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	var room *persistence.Room
	room, err = s.lookupRoom(ctx, input.RoomID)
	if err != nil {
		return
	}

	kind, kindErr := recurrence.ParseKind(input.Recurrence)
	now := s.now()
	vErr := validateBooking(bookingCandidate{
		Room:              room,
		Start:             input.Start,
		End:               input.End,
		Attendees:         input.Attendees,
		RequiredResources: input.RequiredResources,
		Kind:              kind,
		KindErr:           kindErr,
		RecurrenceEnd:     input.RecurrenceEnd,
		Now:               now,
		Location:          s.engine.Location(),
	})
	if vErr.HasErrors() {
		err = vErr
		return
	}

	err = s.withRoomLock(ctx, room.ID, func() error {
		var createErr error
		if kind.Recurring() {
			result, createErr = s.createSeries(ctx, params.Principal, *room, input, kind, now)
		} else {
			result, createErr = s.createSingle(ctx, params.Principal, *room, input, now)
		}
		return createErr
	})
	if err != nil {
		return
	}

	s.recorder.BookingsCreated(string(kind), len(result.Bookings))
	s.invalidate()
	if !kind.Recurring() {
		s.sendConfirmation(ctx, *room, result.Bookings[0])
	}
	return
}

func (s *BookingService) createSingle(ctx context.Context, principal Principal, room persistence.Room, input BookingInput, now time.Time) (CreateBookingResult, error) {
	booking := s.newBooking(principal, room, input, recurrence.KindNone, input.Start, input.End, now)

	overlap, err := s.bookings.HasOverlap(ctx, room.ID, booking.Start, booking.End, "")
	if err != nil {
		return CreateBookingResult{}, mapBookingRepoError(err)
	}
	if overlap {
		return CreateBookingResult{}, conflictFor(booking)
	}

	if err := s.bookings.CreateBooking(ctx, booking); err != nil {
		return CreateBookingResult{}, mapBookingWriteError(err, []persistence.Booking{booking})
	}
	return CreateBookingResult{Bookings: []persistence.Booking{booking}}, nil
}

func (s *BookingService) newBooking(principal Principal, room persistence.Room, input BookingInput, kind recurrence.Kind, start, end, now time.Time) persistence.Booking {
	booking := persistence.Booking{
		ID:                s.idGenerator(),
		UserID:            principal.UserID,
		OwnerEmail:        principal.Email,
		RoomID:            room.ID,
		Start:             start,
		End:               end,
		Attendees:         input.Attendees,
		RequiredResources: strings.TrimSpace(input.RequiredResources),
		Recurrence:        string(kind),
		CreatedAt:         now,
		IsActive:          true,
	}
	if kind.Recurring() && input.RecurrenceEnd != nil {
		until := *input.RecurrenceEnd
		booking.RecurrenceEnd = &until
	}
	return booking
}

// CheckIn marks the caller's booking as attended while the check-in window is open.
func (s *BookingService) CheckIn(ctx context.Context, principal Principal, bookingID string) (booking persistence.Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CheckIn",
		"principal_id", principal.UserID,
		"booking_id", bookingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check in", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking checked in")
	}()

	booking, err = s.ownedBooking(ctx, principal, bookingID)
	if err != nil {
		return
	}

	now := s.now()
	if err = lifecycle.CheckIn(snapshotOf(booking), now); err != nil {
		return
	}

	booking, err = s.transition(ctx, booking, persistence.Transition{Kind: persistence.TransitionCheckIn, At: now, By: principal.UserID},
		func(current lifecycle.Snapshot) error { return lifecycle.CheckIn(current, now) })
	if err != nil {
		return
	}

	s.recorder.CheckedIn()
	return
}

// Cancel cancels the caller's booking when enough notice is given and
// releases the room.
func (s *BookingService) Cancel(ctx context.Context, principal Principal, bookingID string) (booking persistence.Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Cancel",
		"principal_id", principal.UserID,
		"booking_id", bookingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking cancelled")
	}()

	booking, err = s.ownedBooking(ctx, principal, bookingID)
	if err != nil {
		return
	}

	now := s.now()
	if err = lifecycle.Cancel(snapshotOf(booking), now); err != nil {
		return
	}

	booking, err = s.transition(ctx, booking, persistence.Transition{Kind: persistence.TransitionCancel, At: now, By: principal.UserID},
		func(current lifecycle.Snapshot) error { return lifecycle.Cancel(current, now) })
	if err != nil {
		return
	}

	s.recorder.Cancelled("user")
	s.invalidate()
	return
}

// transition applies a conditional update. When another writer won the race,
// the fresh row is re-evaluated by recheck to report the state error.
func (s *BookingService) transition(ctx context.Context, booking persistence.Booking, transition persistence.Transition, recheck func(lifecycle.Snapshot) error) (persistence.Booking, error) {
	applied, err := s.bookings.TransitionBooking(ctx, booking.ID, transition)
	if err != nil {
		return persistence.Booking{}, mapBookingRepoError(err)
	}

	current, err := s.bookings.GetBooking(ctx, booking.ID)
	if err != nil {
		return persistence.Booking{}, mapBookingRepoError(err)
	}
	if !applied {
		if err := recheck(snapshotOf(current)); err != nil {
			return persistence.Booking{}, err
		}
		return persistence.Booking{}, fmt.Errorf("booking %s changed concurrently", booking.ID)
	}
	return current, nil
}

// UpdateOccurrence moves one occurrence to another date and/or changes its
// attendee count, optionally for every future occurrence of its group.
func (s *BookingService) UpdateOccurrence(ctx context.Context, params UpdateOccurrenceParams) (updated []persistence.Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateOccurrence",
		"principal_id", params.Principal.UserID,
		"booking_id", params.BookingID,
		"apply_to_group", params.ApplyToGroup,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("updated_count", len(updated)).InfoContext(ctx, "booking updated")
	}()

	if params.NewDate == nil && params.Attendees == nil {
		err = fieldError("booking", "nothing to update")
		return
	}

	var booking persistence.Booking
	booking, err = s.ownedBooking(ctx, params.Principal, params.BookingID)
	if err != nil {
		return
	}
	if booking.Cancelled {
		err = fieldError("booking", "cancelled bookings cannot be edited")
		return
	}
	if booking.CheckedIn {
		err = lifecycle.ErrAlreadyCheckedIn
		return
	}

	err = s.withRoomLock(ctx, booking.RoomID, func() error {
		var editErr error
		updated, editErr = s.editLocked(ctx, booking, params)
		return editErr
	})
	if err != nil {
		return
	}

	s.invalidate()
	return
}

func (s *BookingService) editLocked(ctx context.Context, booking persistence.Booking, params UpdateOccurrenceParams) ([]persistence.Booking, error) {
	room, err := s.lookupRoom(ctx, booking.RoomID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	target := booking
	if params.NewDate != nil {
		target.Start, target.End = s.engine.MoveToDate(booking.Start, booking.End, *params.NewDate)
	}
	if params.Attendees != nil {
		target.Attendees = *params.Attendees
	}

	candidate := bookingCandidate{
		Room:      room,
		Start:     target.Start,
		End:       target.End,
		Attendees: target.Attendees,
		Kind:      recurrence.KindNone,
		Now:       now,
		Location:  s.engine.Location(),
		Editing:   true,
	}
	vErr := &ValidationError{}
	for _, check := range []bookingRule{
		{field: "room_id", check: checkRoom},
		{field: "time", check: checkTimeRange},
		{field: "attendees", check: checkAttendees},
	} {
		if msg := check.check(candidate); msg != "" {
			vErr.add(check.field, msg)
		}
	}
	if params.NewDate != nil {
		if msg := checkFutureStart(candidate); msg != "" {
			vErr.add("start", msg)
		}
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	if params.NewDate != nil {
		overlap, err := s.bookings.HasOverlap(ctx, target.RoomID, target.Start, target.End, target.ID)
		if err != nil {
			return nil, mapBookingRepoError(err)
		}
		if overlap {
			return nil, conflictFor(target)
		}
	}

	batch := []persistence.Booking{target}
	if params.Attendees != nil && params.ApplyToGroup && booking.RecurrenceGroup != "" {
		siblings, err := s.bookings.ListBookings(ctx, persistence.BookingFilter{
			RecurrenceGroup:  booking.RecurrenceGroup,
			StartsAfter:      &now,
			ExcludeCancelled: true,
		})
		if err != nil {
			return nil, mapBookingRepoError(err)
		}
		for _, sibling := range siblings {
			if sibling.ID == target.ID || sibling.UserID != booking.UserID {
				continue
			}
			sibling.Attendees = target.Attendees
			batch = append(batch, sibling)
		}
	}

	if err := s.bookings.UpdateBookings(ctx, batch); err != nil {
		return nil, mapBookingWriteError(err, batch)
	}
	return batch, nil
}

// DeleteBooking removes one of the caller's bookings. Other occurrences of
// the same series are left untouched.
func (s *BookingService) DeleteBooking(ctx context.Context, principal Principal, bookingID string) error {
	if s == nil {
		return fmt.Errorf("BookingService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteBooking",
		"principal_id", principal.UserID,
		"booking_id", bookingID,
	)

	if _, err := s.ownedBooking(ctx, principal, bookingID); err != nil {
		logger.ErrorContext(ctx, "failed to delete booking", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	if err := s.bookings.DeleteBooking(ctx, bookingID); err != nil {
		err = mapBookingRepoError(err)
		logger.ErrorContext(ctx, "failed to delete booking", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	s.invalidate()
	logger.InfoContext(ctx, "booking deleted")
	return nil
}

// ListBookings returns the caller's bookings grouped by room. A series is
// represented by its first occurrence carrying the expanded dates.
func (s *BookingService) ListBookings(ctx context.Context, principal Principal) (groups []RoomBookings, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ListBookings",
		"principal_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list bookings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("group_count", len(groups)).InfoContext(ctx, "bookings listed")
	}()

	var bookings []persistence.Booking
	bookings, err = s.bookings.ListBookings(ctx, persistence.BookingFilter{UserID: principal.UserID})
	if err != nil {
		err = mapBookingRepoError(err)
		return
	}

	now := s.now()
	byRoom := make(map[string]*RoomBookings)
	for _, booking := range bookings {
		if !isSeriesRepresentative(booking) {
			continue
		}
		group, ok := byRoom[booking.RoomID]
		if !ok {
			var room persistence.Room
			room, err = s.rooms.GetRoom(ctx, booking.RoomID)
			if err != nil {
				err = mapRoomRepoError(err)
				return
			}
			group = &RoomBookings{Room: room}
			byRoom[booking.RoomID] = group
		}
		group.Bookings = append(group.Bookings, s.view(booking, group.Room.Name, now))
	}

	groups = make([]RoomBookings, 0, len(byRoom))
	for _, group := range byRoom {
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Room.Name == groups[j].Room.Name {
			return groups[i].Room.ID < groups[j].Room.ID
		}
		return groups[i].Room.Name < groups[j].Room.Name
	})
	return
}

// RoomBookings returns every booking the caller holds in one room.
func (s *BookingService) RoomBookings(ctx context.Context, principal Principal, roomID string) (group RoomBookings, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "RoomBookings",
		"principal_id", principal.UserID,
		"room_id", roomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list room bookings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(group.Bookings)).InfoContext(ctx, "room bookings listed")
	}()

	var room persistence.Room
	room, err = s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		err = mapRoomRepoError(err)
		return
	}

	var bookings []persistence.Booking
	bookings, err = s.bookings.ListBookings(ctx, persistence.BookingFilter{UserID: principal.UserID, RoomID: roomID})
	if err != nil {
		err = mapBookingRepoError(err)
		return
	}
	if len(bookings) == 0 {
		err = ErrNotFound
		return
	}

	now := s.now()
	group = RoomBookings{Room: room, Bookings: make([]BookingView, 0, len(bookings))}
	for _, booking := range bookings {
		group.Bookings = append(group.Bookings, s.view(booking, room.Name, now))
	}
	return
}

func (s *BookingService) view(booking persistence.Booking, roomName string, now time.Time) BookingView {
	snapshot := snapshotOf(booking)
	view := BookingView{
		Booking:        booking,
		RoomName:       roomName,
		Status:         lifecycle.StatusOf(snapshot, now),
		State:          lifecycle.StateOf(snapshot),
		CheckInAllowed: lifecycle.CheckInAllowed(snapshot, now),
		CanCancel:      lifecycle.CanCancel(snapshot, now),
	}
	if kind, err := recurrence.ParseKind(booking.Recurrence); err == nil && kind.Recurring() {
		view.RecurrenceDates = s.engine.Expand(booking.Start, kind, booking.RecurrenceEnd)
	}
	return view
}

func isSeriesRepresentative(booking persistence.Booking) bool {
	return booking.RecurrenceGroup == "" || booking.RecurrenceGroup == booking.ID
}

func (s *BookingService) ownedBooking(ctx context.Context, principal Principal, bookingID string) (persistence.Booking, error) {
	if s.bookings == nil {
		return persistence.Booking{}, fmt.Errorf("booking repository not configured")
	}
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return persistence.Booking{}, mapBookingRepoError(err)
	}
	if booking.UserID != principal.UserID {
		return persistence.Booking{}, ErrNotFound
	}
	return booking, nil
}

// lookupRoom returns nil without error when the room does not exist so the
// validator can report it as a field error.
func (s *BookingService) lookupRoom(ctx context.Context, roomID string) (*persistence.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, nil
	}
	room, err := s.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *BookingService) withRoomLock(ctx context.Context, roomID string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, "room:"+roomID)
	if err != nil {
		return fmt.Errorf("acquire room lock: %w", err)
	}
	defer unlock()
	return fn()
}

func (s *BookingService) invalidate() {
	for _, cache := range s.caches {
		cache.Invalidate()
	}
}

func (s *BookingService) sendConfirmation(ctx context.Context, room persistence.Room, booking persistence.Booking) {
	if booking.OwnerEmail == "" {
		return
	}
	msg := notify.Message{
		To:      booking.OwnerEmail,
		Subject: "Room Booking Confirmed",
		Body: fmt.Sprintf("Your booking for %s on %s is confirmed.",
			room.Name, booking.Start.In(s.engine.Location()).Format("2006-01-02 15:04")),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.loggerWith(ctx, "CreateBooking", "booking_id", booking.ID).
			WarnContext(ctx, "failed to send confirmation", "error", err)
	}
}

func conflictFor(booking persistence.Booking) *ConflictError {
	return &ConflictError{RoomID: booking.RoomID, Start: booking.Start, End: booking.End}
}

// mapBookingWriteError names the batch entry a repository overlap refers to.
func mapBookingWriteError(err error, batch []persistence.Booking) error {
	var overlap *persistence.OverlapError
	if errors.As(err, &overlap) && overlap.Index >= 0 && overlap.Index < len(batch) {
		return conflictFor(batch[overlap.Index])
	}
	return mapBookingRepoError(err)
}

func mapBookingRepoError(err error) error {
	if err == nil {
		return nil
	}
	var overlap *persistence.OverlapError
	if errors.As(err, &overlap) {
		return &ConflictError{RoomID: overlap.RoomID, Start: overlap.Start, End: overlap.End}
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return fieldError("room_id", "room does not exist")
	case errors.Is(err, persistence.ErrConstraintViolation):
		return fieldError("booking", "booking violates a storage constraint")
	}
	return err
}
