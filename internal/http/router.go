package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"chat-stt-gateway/internal/app"
)

// Mode selects which API a router serves.
type Mode int

const (
	// ModeSTT serves transcription only.
	ModeSTT Mode = iota
	// ModeIntegrated adds the chat relay to the transcription API.
	ModeIntegrated
)

func (m Mode) String() string {
	if m == ModeIntegrated {
		return "integrated"
	}
	return "stt"
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, mode Mode) http.Handler {
	h := &handlers{app: application, mode: mode}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(application.Logger.With().Str("component", "http").Str("api", mode.String()).Logger()))
	r.Use(requestIDLogger)
	r.Use(accessLog(application))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", h.root)
	r.Get("/health", h.health)
	r.Get("/model/info", h.modelInfo)
	r.Post("/transcribe", h.transcribe)
	if mode == ModeIntegrated {
		r.Post("/chat", h.chat)
	}

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Engine.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return r
}

func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("requestId", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog logs each request and records it under its route pattern.
func accessLog(application *app.Application) func(http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		application.Metrics.RecordHTTPRequest(route, r.Method, status, duration.Seconds())

		ev := hlog.FromRequest(r).Info()
		if status >= http.StatusInternalServerError {
			ev = hlog.FromRequest(r).Warn()
		}
		ev.Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}
