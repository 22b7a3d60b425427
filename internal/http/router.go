package http

import (
	"context"
	"net/http"
	"strings"
)

type RouterConfig struct {
	Rooms    *RoomHandler
	Bookings *BookingHandler
	Reports  *ReportHandler
	// Health reports storage readiness for GET /healthz.
	Health func(ctx context.Context) error
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Middleware wraps the API routes; /healthz and /metrics are not wrapped.
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Rooms != nil {
		mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Rooms.List(w, r)
			case http.MethodPost:
				cfg.Rooms.Create(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
			id, action := splitResourcePath(r.URL.Path, "/rooms/")
			if id == "" {
				http.NotFound(w, r)
				return
			}
			ctx := ContextWithRoomID(r.Context(), id)
			r = r.WithContext(ctx)
			switch action {
			case "":
				switch r.Method {
				case http.MethodPut:
					cfg.Rooms.Update(w, r)
				case http.MethodDelete:
					cfg.Rooms.Delete(w, r)
				default:
					methodNotAllowed(w, http.MethodPut, http.MethodDelete)
				}
			case "bookings":
				if cfg.Bookings == nil {
					http.NotFound(w, r)
					return
				}
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				cfg.Bookings.RoomBookings(w, r)
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Bookings != nil {
		mux.HandleFunc("/bookings", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Bookings.List(w, r)
			case http.MethodPost:
				cfg.Bookings.Create(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/bookings/", func(w http.ResponseWriter, r *http.Request) {
			id, action := splitResourcePath(r.URL.Path, "/bookings/")
			if id == "" {
				http.NotFound(w, r)
				return
			}
			ctx := ContextWithBookingID(r.Context(), id)
			r = r.WithContext(ctx)
			switch action {
			case "":
				switch r.Method {
				case http.MethodPatch:
					cfg.Bookings.Update(w, r)
				case http.MethodDelete:
					cfg.Bookings.Delete(w, r)
				default:
					methodNotAllowed(w, http.MethodPatch, http.MethodDelete)
				}
			case "checkin", "cancel":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				if action == "checkin" {
					cfg.Bookings.CheckIn(w, r)
				} else {
					cfg.Bookings.Cancel(w, r)
				}
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Reports != nil {
		mux.HandleFunc("/availability", getOnly(cfg.Reports.Availability))
		mux.HandleFunc("/analytics", getOnly(cfg.Reports.Analytics))
		mux.HandleFunc("/analytics/top-rooms", getOnly(cfg.Reports.TopRooms))
	}

	var api http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			api = cfg.Middleware[i](api)
		}
	}

	root := http.NewServeMux()
	root.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()}
			}
		}
		newResponder(nil).writeJSON(r.Context(), w, status, body)
	})
	if cfg.Metrics != nil {
		root.Handle("/metrics", cfg.Metrics)
	}
	root.Handle("/", api)

	return root
}

// splitResourcePath turns "/prefix/{id}/{action}" into id and action.
func splitResourcePath(path, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ := strings.Cut(rest, "/")
	return id, action
}

func getOnly(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		fn(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
