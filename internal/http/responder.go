package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/roombooking/internal/application"
	"github.com/example/roombooking/internal/lifecycle"
	"github.com/example/roombooking/internal/logging"
)

var (
	errBadRequestBody   = errors.New("request body is not valid JSON")
	errInvalidRoomID    = errors.New("room id is required")
	errInvalidBookingID = errors.New("booking id is required")
	errMissingPrincipal = errors.New("X-User-ID header is required")
	errRateLimited      = errors.New("too many requests")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: logging.OrDefault(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	code := strings.ToUpper(application.ErrorKind(err))
	var (
		vErr     *application.ValidationError
		conflict *application.ConflictError
	)
	switch {
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: code,
			Message:   "you are not allowed to perform this operation",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: code, Message: "resource not found"})
	case errors.As(err, &conflict):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: code, Message: conflict.Error()})
	case errors.Is(err, application.ErrConflict),
		errors.Is(err, application.ErrAlreadyExists),
		errors.Is(err, application.ErrRoomHasFutureBookings),
		errors.Is(err, lifecycle.ErrCheckInWindowClosed),
		errors.Is(err, lifecycle.ErrCancellationTooLate),
		errors.Is(err, lifecycle.ErrAlreadyCancelled),
		errors.Is(err, lifecycle.ErrAlreadyCheckedIn):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: code, Message: conflictMessage(err)})
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: code,
			Message:   "request validation failed",
			Errors:    vErr.FieldErrors,
		})
	default:
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, r.logger)
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, application.ErrAlreadyExists):
		return "a room with this name already exists at this location"
	case errors.Is(err, application.ErrRoomHasFutureBookings):
		return "room has upcoming bookings"
	case errors.Is(err, lifecycle.ErrCheckInWindowClosed):
		return "check-in is only possible within 10 minutes of the start time"
	case errors.Is(err, lifecycle.ErrCancellationTooLate):
		return "bookings can only be cancelled at least 15 minutes before the start time"
	case errors.Is(err, lifecycle.ErrAlreadyCancelled):
		return "booking is already cancelled"
	case errors.Is(err, lifecycle.ErrAlreadyCheckedIn):
		return "booking is already checked in"
	default:
		return "booking conflicts with an existing booking"
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
