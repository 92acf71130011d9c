package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"

	"github.com/yellowbus/route-tracker/internal/platform/logger"
)

type RouterOptions struct {
	// AuthMiddleware guards every route except health, login and the public feed.
	AuthMiddleware func(http.Handler) http.Handler
	// CORSOrigins enables CORS for browser clients when non-empty.
	CORSOrigins []string
	Log         *slog.Logger
}

// NewRouter constructs the API HTTP router.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/sessions", s.CreateSession)
	r.Get("/gtfs-rt/vehicle-positions", s.VehiclePositions)

	r.Group(func(r chi.Router) {
		if opts.AuthMiddleware != nil {
			r.Use(opts.AuthMiddleware)
		}
		r.Delete("/sessions/current", s.DeleteSession)
		r.Get("/me", s.Me)
		r.Route("/routes/{routeId}", func(r chi.Router) {
			r.Get("/snapshot", s.RouteSnapshot)
			r.Get("/live", s.LiveRoute)
			r.Post("/location", s.PublishLocation)
			r.Put("/status", s.SetStatus)
			r.Post("/tip", s.PostTip)
			r.Get("/riders", s.ListRiders)
			r.Get("/driver", s.RouteDriver)
		})
	})

	if len(opts.CORSOrigins) == 0 {
		return r
	}
	return handlers.CORS(
		handlers.AllowedOrigins(opts.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.ExposedHeaders([]string{middleware.RequestIDHeader}),
	)(r)
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.Log(r.Context(), level, "http request",
				logger.Action("http_request"),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String(logger.RequestIDKey, middleware.GetReqID(r.Context())),
			)
		})
	}
}
