package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/roombooking/internal/application"
	"github.com/example/roombooking/internal/logging"
	"github.com/example/roombooking/internal/persistence"
)

// DateLayout is the calendar date format for recurrence_end and new_date.
const DateLayout = "2006-01-02"

type bookingService interface {
	CreateBooking(ctx context.Context, params application.CreateBookingParams) (application.CreateBookingResult, error)
	CheckIn(ctx context.Context, principal application.Principal, bookingID string) (persistence.Booking, error)
	Cancel(ctx context.Context, principal application.Principal, bookingID string) (persistence.Booking, error)
	UpdateOccurrence(ctx context.Context, params application.UpdateOccurrenceParams) ([]persistence.Booking, error)
	DeleteBooking(ctx context.Context, principal application.Principal, bookingID string) error
	ListBookings(ctx context.Context, principal application.Principal) ([]application.RoomBookings, error)
	RoomBookings(ctx context.Context, principal application.Principal, roomID string) (application.RoomBookings, error)
}

// BookingHandler serves booking creation, lifecycle transitions and listings.
// Local times in requests and responses use location.
type BookingHandler struct {
	service   bookingService
	location  *time.Location
	responder responder
	logger    *slog.Logger
}

func NewBookingHandler(service bookingService, location *time.Location, logger *slog.Logger) *BookingHandler {
	if location == nil {
		location = time.UTC
	}
	base := logging.OrDefault(logger)
	return &BookingHandler{service: service, location: location, responder: newResponder(base), logger: base}
}

func (h *BookingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "BookingHandler", operation, attrs...)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "principal_id", principal.UserID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode booking request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID, "room_id", req.RoomID)

	input, err := req.toInput(h.location)
	if err != nil {
		logger.ErrorContext(r.Context(), "booking request rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	result, err := h.service.CreateBooking(r.Context(), application.CreateBookingParams{
		Principal: principal,
		Input:     input,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "booking creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("booking_count", len(result.Bookings), "series_id", result.SeriesID).InfoContext(r.Context(), "booking created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, createBookingResponse{
		SeriesID: result.SeriesID,
		Bookings: h.toBookingDTOs(result.Bookings),
	})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "List", "principal_id", principal.UserID)

	groups, err := h.service.ListBookings(r.Context(), principal)
	if err != nil {
		logger.ErrorContext(r.Context(), "booking list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := listBookingsResponse{Rooms: make([]roomBookingsDTO, 0, len(groups))}
	for _, group := range groups {
		resp.Rooms = append(resp.Rooms, h.toRoomBookingsDTO(group))
	}
	logger.With("group_count", len(groups)).InfoContext(r.Context(), "bookings listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *BookingHandler) RoomBookings(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := RoomIDFromContext(r.Context())
	if !ok || strings.TrimSpace(roomID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidRoomID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "RoomBookings", "principal_id", principal.UserID, "room_id", roomID)

	group, err := h.service.RoomBookings(r.Context(), principal, roomID)
	if err != nil {
		logger.ErrorContext(r.Context(), "room bookings failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(group.Bookings)).InfoContext(r.Context(), "room bookings listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.toRoomBookingsDTO(group))
}

func (h *BookingHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req updateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Update", "principal_id", principal.UserID, "booking_id", bookingID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode booking update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Update", "principal_id", principal.UserID, "booking_id", bookingID)

	params, err := req.toParams(principal, bookingID, h.location)
	if err != nil {
		logger.ErrorContext(r.Context(), "booking update rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	updated, err := h.service.UpdateOccurrence(r.Context(), params)
	if err != nil {
		logger.ErrorContext(r.Context(), "booking update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("updated_count", len(updated)).InfoContext(r.Context(), "booking updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingsResponse{Bookings: h.toBookingDTOs(updated)})
}

func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Delete", "principal_id", principal.UserID, "booking_id", bookingID)
	if err := h.service.DeleteBooking(r.Context(), principal, bookingID); err != nil {
		logger.ErrorContext(r.Context(), "booking delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "booking deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *BookingHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "CheckIn", func(ctx context.Context, principal application.Principal, id string) (persistence.Booking, error) {
		return h.service.CheckIn(ctx, principal, id)
	})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Cancel", func(ctx context.Context, principal application.Principal, id string) (persistence.Booking, error) {
		return h.service.Cancel(ctx, principal, id)
	})
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, operation string, apply func(context.Context, application.Principal, string) (persistence.Booking, error)) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok || strings.TrimSpace(bookingID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), operation, "principal_id", principal.UserID, "booking_id", bookingID)

	booking, err := apply(r.Context(), principal, bookingID)
	if err != nil {
		logger.ErrorContext(r.Context(), "booking transition failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "booking transitioned")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: h.toBookingDTO(booking)})
}

type bookingRequest struct {
	RoomID            string `json:"room_id"`
	Start             string `json:"start"`
	End               string `json:"end"`
	Attendees         int    `json:"attendees"`
	RequiredResources string `json:"required_resources"`
	Recurrence        string `json:"recurrence"`
	RecurrenceEnd     string `json:"recurrence_end"`
}

// toInput parses the local time fields. Empty times are passed through as
// zero values for the service to report.
func (r bookingRequest) toInput(loc *time.Location) (application.BookingInput, error) {
	input := application.BookingInput{
		RoomID:            strings.TrimSpace(r.RoomID),
		Attendees:         r.Attendees,
		RequiredResources: r.RequiredResources,
		Recurrence:        r.Recurrence,
	}

	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	if raw := strings.TrimSpace(r.Start); raw != "" {
		start, err := application.ParseLocalTime(raw, loc)
		if err != nil {
			vErr.FieldErrors["start"] = "datetime format should be YYYY-MM-DDTHH:MM"
		}
		input.Start = start
	}
	if raw := strings.TrimSpace(r.End); raw != "" {
		end, err := application.ParseLocalTime(raw, loc)
		if err != nil {
			vErr.FieldErrors["end"] = "datetime format should be YYYY-MM-DDTHH:MM"
		}
		input.End = end
	}
	if raw := strings.TrimSpace(r.RecurrenceEnd); raw != "" {
		until, err := time.ParseInLocation(DateLayout, raw, loc)
		if err != nil {
			vErr.FieldErrors["recurrence_end"] = "date format should be YYYY-MM-DD"
		} else {
			input.RecurrenceEnd = &until
		}
	}
	if vErr.HasErrors() {
		return application.BookingInput{}, vErr
	}
	return input, nil
}

type updateBookingRequest struct {
	NewDate      string `json:"new_date"`
	Attendees    *int   `json:"attendees"`
	ApplyToGroup bool   `json:"apply_to_group"`
}

func (r updateBookingRequest) toParams(principal application.Principal, bookingID string, loc *time.Location) (application.UpdateOccurrenceParams, error) {
	params := application.UpdateOccurrenceParams{
		Principal:    principal,
		BookingID:    bookingID,
		Attendees:    r.Attendees,
		ApplyToGroup: r.ApplyToGroup,
	}
	if raw := strings.TrimSpace(r.NewDate); raw != "" {
		date, err := time.ParseInLocation(DateLayout, raw, loc)
		if err != nil {
			return application.UpdateOccurrenceParams{}, &application.ValidationError{
				FieldErrors: map[string]string{"new_date": "date format should be YYYY-MM-DD"},
			}
		}
		params.NewDate = &date
	}
	return params, nil
}

type createBookingResponse struct {
	SeriesID string       `json:"series_id,omitempty"`
	Bookings []bookingDTO `json:"bookings"`
}

type bookingsResponse struct {
	Bookings []bookingDTO `json:"bookings"`
}

type bookingResponse struct {
	Booking bookingDTO `json:"booking"`
}

type listBookingsResponse struct {
	Rooms []roomBookingsDTO `json:"rooms"`
}

type roomBookingsDTO struct {
	Room     roomDTO      `json:"room"`
	Bookings []bookingDTO `json:"bookings"`
}

type bookingDTO struct {
	ID                string   `json:"id"`
	RoomID            string   `json:"room_id"`
	RoomName          string   `json:"room_name,omitempty"`
	UserID            string   `json:"user_id"`
	Start             string   `json:"start"`
	End               string   `json:"end"`
	Attendees         int      `json:"attendees"`
	RequiredResources string   `json:"required_resources,omitempty"`
	Recurrence        string   `json:"recurrence"`
	RecurrenceEnd     string   `json:"recurrence_end,omitempty"`
	SeriesID          string   `json:"series_id,omitempty"`
	RecurrenceGroup   string   `json:"recurrence_group,omitempty"`
	CheckedIn         bool     `json:"checked_in"`
	Cancelled         bool     `json:"cancelled"`
	CancelledAt       string   `json:"cancelled_at,omitempty"`
	Status            string   `json:"status,omitempty"`
	State             string   `json:"state,omitempty"`
	CheckInAllowed    *bool    `json:"check_in_allowed,omitempty"`
	CanCancel         *bool    `json:"can_cancel,omitempty"`
	RecurrenceDates   []string `json:"recurrence_dates,omitempty"`
}

func (h *BookingHandler) toBookingDTO(b persistence.Booking) bookingDTO {
	dto := bookingDTO{
		ID:                b.ID,
		RoomID:            b.RoomID,
		UserID:            b.UserID,
		Start:             b.Start.In(h.location).Format(time.RFC3339),
		End:               b.End.In(h.location).Format(time.RFC3339),
		Attendees:         b.Attendees,
		RequiredResources: b.RequiredResources,
		Recurrence:        b.Recurrence,
		SeriesID:          b.SeriesID,
		RecurrenceGroup:   b.RecurrenceGroup,
		CheckedIn:         b.CheckedIn,
		Cancelled:         b.Cancelled,
	}
	if b.RecurrenceEnd != nil {
		dto.RecurrenceEnd = b.RecurrenceEnd.In(h.location).Format(DateLayout)
	}
	if b.CancelledAt != nil {
		dto.CancelledAt = b.CancelledAt.In(h.location).Format(time.RFC3339)
	}
	return dto
}

func (h *BookingHandler) toBookingDTOs(bookings []persistence.Booking) []bookingDTO {
	out := make([]bookingDTO, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, h.toBookingDTO(b))
	}
	return out
}

func (h *BookingHandler) toViewDTO(view application.BookingView) bookingDTO {
	dto := h.toBookingDTO(view.Booking)
	checkIn, cancel := view.CheckInAllowed, view.CanCancel
	dto.RoomName = view.RoomName
	dto.Status = string(view.Status)
	dto.State = string(view.State)
	dto.CheckInAllowed = &checkIn
	dto.CanCancel = &cancel
	for _, date := range view.RecurrenceDates {
		dto.RecurrenceDates = append(dto.RecurrenceDates, date.Format(DateLayout))
	}
	return dto
}

func (h *BookingHandler) toRoomBookingsDTO(group application.RoomBookings) roomBookingsDTO {
	dto := roomBookingsDTO{Room: toRoomDTO(group.Room), Bookings: make([]bookingDTO, 0, len(group.Bookings))}
	for _, view := range group.Bookings {
		dto.Bookings = append(dto.Bookings, h.toViewDTO(view))
	}
	return dto
}
