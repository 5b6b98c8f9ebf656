package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/agentdesk/internal/connection"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/middleware"
	"github.com/ashureev/agentdesk/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger checks a dependency; the store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AgentID     string
	FrontendURL string
	IsDev       bool
	// DB is optional; when nil the health check skips it.
	DB      Pinger
	Streams *StreamRegistry
}

// NewRouter builds the local API router.
func NewRouter(cfg RouterConfig, c Console) *chi.Mux {
	base := NewHandler(c)
	streams := cfg.Streams
	if streams == nil {
		streams = NewStreamRegistry()
	}

	origins := []string{"*"}
	if !cfg.IsDev && cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()
	r.Use(middleware.Metrics)
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", identity.ConsoleHeaderName},
		MaxAge:         300,
	}))
	r.Use(identity.Middleware(cfg.AgentID))

	health := &HealthHandler{db: cfg.DB, console: c}
	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())

	NewSessionHandler(base).RegisterRoutes(r)
	r.Get("/ws/events", NewEventsHandler(base, streams, cfg.FrontendURL, cfg.IsDev).ServeHTTP)

	r.Handle("/*", web.ConsoleHandler())

	return r
}

// HealthHandler reports the health of the database and the upstream channel.
type HealthHandler struct {
	db      Pinger
	console Console
}

// Health returns the health status of the API and its dependencies. A
// reconnecting channel degrades the status but is not a failure.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			status["status"] = "unhealthy"
			checks["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	conn := h.console.Connection()
	checks["upstream"] = string(conn.State)
	if conn.State != connection.StateOpen && statusCode == http.StatusOK {
		status["status"] = "degraded"
	}

	JSON(w, statusCode, status)
}
