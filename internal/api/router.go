package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/studyloop/backend/internal/ai"
	"github.com/studyloop/backend/internal/api/handlers"
	"github.com/studyloop/backend/internal/auth"
	"github.com/studyloop/backend/internal/cache"
	"github.com/studyloop/backend/internal/config"
	"github.com/studyloop/backend/internal/database"
	"github.com/studyloop/backend/internal/feedback"
	"github.com/studyloop/backend/internal/middleware"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/ratelimit"
	"github.com/studyloop/backend/internal/repository"
	"github.com/studyloop/backend/internal/session"
	"github.com/studyloop/backend/internal/usage"
)

// NewRouter creates and configures the main router. The limiter and session
// manager are built by the caller so the periodic jobs can share them.
func NewRouter(cfg *config.Config, db *database.DB, appCache *cache.Cache, limiter *ratelimit.Limiter, sessions *session.Manager) *chi.Mux {
	r := chi.NewRouter()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	usageRepo := repository.NewUsageEventRepository(db)
	planRepo := repository.NewPlanRepository(db, appCache, cfg.CacheTTL)

	// Initialize auth services
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTExpiration)
	authMiddleware := auth.NewAuthMiddleware(jwtService, sessions)

	// Initialize services
	tracker := usage.NewTracker(usageRepo, planRepo, planRepo)
	aiClient := ai.NewClient(cfg.AIAPIKey, cfg.AIModel)
	feedbackService := feedback.NewService(aiClient, tracker, appCache)

	// Initialize handlers
	healthHandler := handlers.NewHealthChecker(db, appCache)
	authHandler := handlers.NewAuthHandler(userRepo, jwtService, sessions)
	sessionHandler := handlers.NewSessionHandler(sessions)
	usageHandler := handlers.NewUsageHandler(tracker)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackService)

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Timing)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if cfg.IsDevelopment() {
		r.Use(middleware.CORS())
	} else {
		r.Use(middleware.CORSWithOrigins(cfg.CORSOrigins))
	}
	r.Use(authMiddleware.OptionalAuth) // resolve identity for rate-limit keying

	// Health endpoints
	r.Get("/health", healthHandler.Health)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints, throttled hardest
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limiter, ratelimit.CategoryAuth))
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
		})

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(middleware.RateLimit(limiter, ratelimit.CategoryAPI))

			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/sessions", sessionHandler.List)
			r.Delete("/sessions/{id}", sessionHandler.Revoke)

			r.Get("/usage", usageHandler.GetSummary)

			r.Post("/ai/feedback", feedbackHandler.Generate)
		})

		// Admin endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Use(middleware.RateLimit(limiter, ratelimit.CategoryAdmin))

			cacheHandler := handlers.NewCacheHandler(appCache)
			r.Delete("/cache/tags/{tag}", cacheHandler.InvalidateTag)
			r.Delete("/cache/keys", cacheHandler.ClearPattern)
		})
	})

	return r
}
