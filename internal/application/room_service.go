package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/roombooking/internal/persistence"
)

// RoomService orchestrates validation, authorization, and persistence for rooms.
type RoomService struct {
	rooms       persistence.RoomRepository
	bookings    persistence.BookingRepository
	caches      []CacheInvalidator
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewRoomService constructs a room service with the provided dependencies.
func NewRoomService(rooms persistence.RoomRepository, bookings persistence.BookingRepository, idGenerator func() string, now func() time.Time, caches ...CacheInvalidator) *RoomService {
	return NewRoomServiceWithLogger(rooms, bookings, idGenerator, now, nil, caches...)
}

// NewRoomServiceWithLogger constructs a room service with a specified logger.
func NewRoomServiceWithLogger(rooms persistence.RoomRepository, bookings persistence.BookingRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger, caches ...CacheInvalidator) *RoomService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &RoomService{
		rooms:       rooms,
		bookings:    bookings,
		caches:      caches,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *RoomService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoomService", operation, attrs...)
}

// CreateRoom validates input and persists a new room for administrators.
func (s *RoomService) CreateRoom(ctx context.Context, params CreateRoomParams) (room persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateRoom",
		"principal_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", room.ID).InfoContext(ctx, "room created")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := validateRoomInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	room = persistence.Room{
		ID:          s.idGenerator(),
		Name:        strings.TrimSpace(params.Input.Name),
		Location:    strings.TrimSpace(params.Input.Location),
		Capacity:    params.Input.Capacity,
		Resources:   strings.TrimSpace(params.Input.Resources),
		IsAvailable: true,
		CreatedAt:   s.now(),
	}
	if params.Input.IsAvailable != nil {
		room.IsAvailable = *params.Input.IsAvailable
	}
	room.UpdatedAt = room.CreatedAt

	if s.rooms == nil {
		return
	}

	if err = s.rooms.CreateRoom(ctx, room); err != nil {
		err = mapRoomRepoError(err)
		return
	}

	s.invalidate()
	return
}

// UpdateRoom validates input and updates an existing room for administrators.
func (s *RoomService) UpdateRoom(ctx context.Context, params UpdateRoomParams) (room persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	if s.rooms == nil {
		err = fmt.Errorf("room repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "UpdateRoom",
		"principal_id", params.Principal.UserID,
		"room_id", params.RoomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", room.ID).InfoContext(ctx, "room updated")
	}()

	var existing persistence.Room
	existing, err = s.rooms.GetRoom(ctx, params.RoomID)
	if err != nil {
		err = mapRoomRepoError(err)
		return
	}

	vErr := validateRoomInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	room = existing
	room.Name = strings.TrimSpace(params.Input.Name)
	room.Location = strings.TrimSpace(params.Input.Location)
	room.Capacity = params.Input.Capacity
	room.Resources = strings.TrimSpace(params.Input.Resources)
	if params.Input.IsAvailable != nil {
		room.IsAvailable = *params.Input.IsAvailable
	}
	room.UpdatedAt = s.now()

	if err = s.rooms.UpdateRoom(ctx, room); err != nil {
		err = mapRoomRepoError(err)
		return
	}

	s.invalidate()
	return
}

// DeleteRoom removes a room when requested by an administrator. Rooms with
// future non-cancelled bookings are kept.
func (s *RoomService) DeleteRoom(ctx context.Context, principal Principal, roomID string) error {
	if s == nil {
		return fmt.Errorf("RoomService is nil")
	}
	if !principal.IsAdmin {
		return ErrUnauthorized
	}
	if s.rooms == nil {
		return fmt.Errorf("room repository not configured")
	}

	logger := s.loggerWith(ctx, "DeleteRoom",
		"principal_id", principal.UserID,
		"room_id", roomID,
	)

	if s.bookings != nil {
		now := s.now()
		upcoming, err := s.bookings.ListBookings(ctx, persistence.BookingFilter{
			RoomID:           roomID,
			StartsAfter:      &now,
			ExcludeCancelled: true,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to check room bookings", "error", err, "error_kind", ErrorKind(err))
			return err
		}
		if len(upcoming) > 0 {
			logger.WarnContext(ctx, "room still booked", "error_kind", ErrorKind(ErrRoomHasFutureBookings), "upcoming", len(upcoming))
			return ErrRoomHasFutureBookings
		}
	}

	if err := s.rooms.DeleteRoom(ctx, roomID); err != nil {
		err = mapRoomRepoError(err)
		logger.ErrorContext(ctx, "failed to delete room", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	s.invalidate()
	logger.InfoContext(ctx, "room deleted")
	return nil
}

// ListRooms returns the catalog of rooms for any caller.
func (s *RoomService) ListRooms(ctx context.Context, principal Principal) (rooms []persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if s.rooms == nil {
		return nil, nil
	}

	logger := s.loggerWith(ctx, "ListRooms",
		"principal_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(rooms)).InfoContext(ctx, "rooms listed")
	}()

	var raw []persistence.Room
	raw, err = s.rooms.ListRooms(ctx)
	if err != nil {
		return
	}

	rooms = make([]persistence.Room, len(raw))
	copy(rooms, raw)

	sort.Slice(rooms, func(i, j int) bool {
		if strings.EqualFold(rooms[i].Name, rooms[j].Name) {
			return rooms[i].ID < rooms[j].ID
		}
		return strings.ToLower(rooms[i].Name) < strings.ToLower(rooms[j].Name)
	})

	return
}

func (s *RoomService) invalidate() {
	for _, cache := range s.caches {
		cache.Invalidate()
	}
}

func validateRoomInput(input RoomInput) *ValidationError {
	vErr := &ValidationError{}

	if strings.TrimSpace(input.Name) == "" {
		vErr.add("name", "name is required")
	}
	if strings.TrimSpace(input.Location) == "" {
		vErr.add("location", "location is required")
	}
	if input.Capacity <= 0 {
		vErr.add("capacity", "capacity must be positive")
	}

	return vErr
}

func mapRoomRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("capacity", "capacity must be positive")
		return vErr
	}
	return err
}
