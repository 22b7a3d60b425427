package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/roombooking/internal/application"
	"github.com/example/roombooking/internal/logging"
	"github.com/example/roombooking/internal/persistence"
)

type availabilityService interface {
	AvailableRooms(ctx context.Context, query application.AvailabilityQuery) ([]persistence.Room, error)
}

type analyticsService interface {
	Report(ctx context.Context) (application.AnalyticsReport, error)
	TopRooms(ctx context.Context, principal *application.Principal, limit int) ([]application.RoomUsage, error)
}

// ReportHandler serves the read-only availability and analytics endpoints.
type ReportHandler struct {
	availability availabilityService
	analytics    analyticsService
	responder    responder
	logger       *slog.Logger
}

func NewReportHandler(availability availabilityService, analytics analyticsService, logger *slog.Logger) *ReportHandler {
	base := logging.OrDefault(logger)
	return &ReportHandler{availability: availability, analytics: analytics, responder: newResponder(base), logger: base}
}

func (h *ReportHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ReportHandler", operation, attrs...)
}

func (h *ReportHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.availability == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	query := application.AvailabilityQuery{
		Start:       q.Get("start"),
		End:         q.Get("end"),
		MinCapacity: q.Get("capacity"),
		Resources:   q.Get("resources"),
	}
	logger := h.log(r.Context(), "Availability", "start", query.Start, "end", query.End)

	rooms, err := h.availability.AvailableRooms(r.Context(), query)
	if err != nil {
		logger.ErrorContext(r.Context(), "availability query failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(rooms)).InfoContext(r.Context(), "availability computed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listRoomsResponse{Rooms: toRoomDTOs(rooms)})
}

func (h *ReportHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.analytics == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	logger := h.log(r.Context(), "Analytics")
	report, err := h.analytics.Report(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "analytics failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := analyticsResponse{
		TopRooms:             toUsageDTOs(report.TopRooms),
		Occupancy:            make([]occupancyDTO, 0, len(report.Occupancy)),
		Heatmap:              make([]heatmapDTO, 0, len(report.Heatmap)),
		AutoCancelledPercent: report.AutoCancelledPercent,
	}
	for _, o := range report.Occupancy {
		resp.Occupancy = append(resp.Occupancy, occupancyDTO{RoomID: o.RoomID, RoomName: o.RoomName, AverageOccupancy: o.AverageOccupancy})
	}
	for _, cell := range report.Heatmap {
		resp.Heatmap = append(resp.Heatmap, heatmapDTO{Weekday: cell.Weekday.String(), Hour: cell.Hour, Count: cell.Count})
	}

	logger.InfoContext(r.Context(), "analytics served")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *ReportHandler) TopRooms(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.analytics == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
				FieldErrors: map[string]string{"limit": "limit must be a non-negative integer"},
			})
			return
		}
		limit = n
	}

	var scope *application.Principal
	if mine, _ := strconv.ParseBool(q.Get("mine")); mine {
		principal, _ := PrincipalFromContext(r.Context())
		scope = &principal
	}

	logger := h.log(r.Context(), "TopRooms", "limit", limit, "mine", scope != nil)
	usage, err := h.analytics.TopRooms(r.Context(), scope, limit)
	if err != nil {
		logger.ErrorContext(r.Context(), "top rooms failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(usage)).InfoContext(r.Context(), "top rooms served")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, topRoomsResponse{Rooms: toUsageDTOs(usage)})
}

type usageDTO struct {
	RoomID       string `json:"room_id"`
	RoomName     string `json:"room_name"`
	BookingCount int    `json:"booking_count"`
}

type occupancyDTO struct {
	RoomID           string  `json:"room_id"`
	RoomName         string  `json:"room_name"`
	AverageOccupancy float64 `json:"average_occupancy"`
}

type heatmapDTO struct {
	Weekday string `json:"weekday"`
	Hour    int    `json:"hour"`
	Count   int    `json:"count"`
}

type analyticsResponse struct {
	TopRooms             []usageDTO     `json:"top_rooms"`
	Occupancy            []occupancyDTO `json:"occupancy"`
	Heatmap              []heatmapDTO   `json:"heatmap"`
	AutoCancelledPercent float64        `json:"auto_cancelled_percent"`
}

type topRoomsResponse struct {
	Rooms []usageDTO `json:"rooms"`
}

func toUsageDTOs(usage []application.RoomUsage) []usageDTO {
	out := make([]usageDTO, 0, len(usage))
	for _, u := range usage {
		out = append(out, usageDTO{RoomID: u.RoomID, RoomName: u.RoomName, BookingCount: u.BookingCount})
	}
	return out
}
