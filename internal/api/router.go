package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/findmydocs/backend/internal/middleware"
	"go.uber.org/zap"
)

// Router holds all handlers and creates the chi router
type Router struct {
	chatHandler         *ChatHandler
	notificationHandler *NotificationHandler
	profileHandler      *ProfileHandler
	documentHandler     *DocumentHandler
	healthHandler       *HealthHandler
	verifier            middleware.TokenVerifier
	limiter             *middleware.RateLimiter
	allowedOrigins      []string
	uploadDir           string
	logger              *zap.Logger
}

// RouterConfig carries the router's non-handler dependencies.
type RouterConfig struct {
	Verifier       middleware.TokenVerifier
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	// UploadDir is served under /uploads when set.
	UploadDir string
}

// NewRouter creates a new router
func NewRouter(
	chatHandler *ChatHandler,
	notificationHandler *NotificationHandler,
	profileHandler *ProfileHandler,
	documentHandler *DocumentHandler,
	healthHandler *HealthHandler,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		chatHandler:         chatHandler,
		notificationHandler: notificationHandler,
		profileHandler:      profileHandler,
		documentHandler:     documentHandler,
		healthHandler:       healthHandler,
		verifier:            cfg.Verifier,
		limiter:             cfg.Limiter,
		allowedOrigins:      cfg.AllowedOrigins,
		uploadDir:           cfg.UploadDir,
		logger:              logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware(rt.allowedOrigins))

	// Health endpoints (no auth required)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	// Browsers cannot set headers on WebSocket requests, so the token may
	// come in the query string. Not compressed: the connection is hijacked.
	r.With(middleware.WebSocketAuthMiddleware(rt.verifier)).Get("/ws", rt.chatHandler.HandleWebSocket)

	if rt.uploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(rt.uploadDir))))
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Compress(5))

		r.Get("/ranks/tiers", rt.profileHandler.GetTiers)
		r.Get("/ranks", rt.profileHandler.GetRank)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(rt.verifier))

			r.Get("/me", rt.profileHandler.Me)
			r.Get("/me/rank", rt.profileHandler.GetMyRank)
			r.Get("/profiles", rt.profileHandler.GetProfiles)

			r.Route("/threads", func(r chi.Router) {
				r.Get("/", rt.chatHandler.GetThreads)
				r.Get("/{key}/messages", rt.chatHandler.GetThreadMessages)
				r.Post("/{key}/read", rt.chatHandler.MarkThreadRead)
			})
			r.With(rt.limit).Post("/messages", rt.chatHandler.SendMessage)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", rt.notificationHandler.GetNotifications)
				r.Post("/read-all", rt.notificationHandler.MarkAllRead)
				r.Post("/{id}/read", rt.notificationHandler.MarkRead)
				r.Post("/devices", rt.notificationHandler.RegisterDevice)
			})

			r.Route("/documents", func(r chi.Router) {
				r.With(rt.limit).Post("/", rt.documentHandler.Report)
				r.Get("/nearby", rt.documentHandler.Nearby)
				r.Get("/{id}", rt.documentHandler.Get)
				r.Post("/{id}/image", rt.documentHandler.UploadImage)
				r.Post("/{id}/returned", rt.documentHandler.MarkReturned)
			})
		})
	})

	return r
}

func (rt *Router) limit(next http.Handler) http.Handler {
	if rt.limiter == nil {
		return next
	}
	return rt.limiter.Limit(next)
}
