package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/defrilex/messaging/internal/api/middleware"
	"github.com/defrilex/messaging/internal/config"
	"github.com/defrilex/messaging/internal/handlers"
	"github.com/defrilex/messaging/internal/messaging"
	"github.com/defrilex/messaging/internal/store"
)

// maxBodyBytes bounds request bodies; a full message with attachments fits well inside.
const maxBodyBytes = 64 * 1024

// NewRouter creates and configures the HTTP router.
// redisStore may be nil, in which case rate limiting is disabled.
func NewRouter(logger zerolog.Logger, cfg *config.Config, ds store.DataStore, redisStore *store.RedisStore) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	} else {
		logger.Warn().Msg("REDIS_URL not set, rate limiting disabled")
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	svc := messaging.NewService(ds)
	h := handlers.NewHandler(svc, ds, redisStore, logger)
	auth := middleware.NewAuthMiddleware(ds, cfg.JWTSecret, cfg.JWTIssuer, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/users/{id}", h.GetUser)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/messages", h.SendMessage)
		r.Get("/messages", h.ListMessages)
		r.Get("/messages/unread", h.Unread)
		r.Post("/messages/{id}/read", h.MarkRead)
		r.Get("/conversations", h.ListConversations)
	})

	return r
}
