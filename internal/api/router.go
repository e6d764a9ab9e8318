package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/boardsync/internal/api/middleware"
	"github.com/eldtechnologies/boardsync/internal/config"
	"github.com/eldtechnologies/boardsync/internal/events"
	"github.com/eldtechnologies/boardsync/internal/handlers"
	"github.com/eldtechnologies/boardsync/internal/store"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Store     store.DataStore
	Redis     *store.RedisStore // optional
	Live      handlers.LiveSessions
	Pending   handlers.PendingWrites
	Publisher events.Publisher // optional
	WebSocket http.HandlerFunc
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders(!cfg.IsDevelopment()))
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting needs Redis; without it only the per-connection
	// WebSocket limit applies.
	if deps.Redis != nil {
		limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	opts := []handlers.Option{
		handlers.WithLiveSessions(deps.Live),
		handlers.WithPendingWrites(deps.Pending),
		handlers.WithLogger(logger.With().Str("component", "handlers").Logger()),
	}
	if deps.Redis != nil {
		opts = append(opts, handlers.WithRedis(deps.Redis))
	}
	if deps.Publisher != nil {
		opts = append(opts, handlers.WithPublisher(deps.Publisher))
	}
	h := handlers.NewHandler(deps.Store, opts...)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Get("/api/stats", h.Stats)

	r.Route("/api/boards", func(r chi.Router) {
		r.Get("/", h.ListBoards)
		r.Post("/", h.CreateBoard)
		r.Get("/{id}", h.GetBoard)
		r.Delete("/{id}", h.DeleteBoard)
	})
	r.Get("/api/sessions/{id}", h.GetSession)

	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket)
	}

	return r
}
