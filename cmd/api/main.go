package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/studyloop/backend/internal/api"
	"github.com/studyloop/backend/internal/cache"
	"github.com/studyloop/backend/internal/config"
	"github.com/studyloop/backend/internal/database"
	"github.com/studyloop/backend/internal/ratelimit"
	"github.com/studyloop/backend/internal/repository"
	"github.com/studyloop/backend/internal/session"
)

func main() {
	// Load .env in development; ignore when absent
	_ = godotenv.Load()

	cfg := config.Load()

	log.Printf("[main] Starting StudyLoop API (env=%s)", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	dbCfg := database.DefaultConfig(cfg.DatabaseURL)
	db, err := database.New(ctx, dbCfg)
	if err != nil {
		log.Fatalf("[main] Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("[main] Failed to apply schema: %v", err)
	}

	// Connect to Redis. The API stays up without it: the cache runs on the
	// in-process store and the rate limiter falls back to local windows.
	var redisCache *cache.Redis
	var cacheStore cache.Store
	if rc, err := cache.NewRedisFromURL(cfg.RedisURL); err != nil {
		log.Printf("[main] WARN Redis unavailable, using in-process cache: %v", err)
		cacheStore = cache.NewMemoryStore()
	} else {
		redisCache = rc
		defer redisCache.Close()
		cacheStore = cache.NewRedisStore(redisCache)
	}
	appCache := cache.New(cacheStore)

	// Rate limiter store
	var limitStore ratelimit.Store
	if cfg.RateLimitDistributed && redisCache != nil {
		limitStore = ratelimit.NewRedisStore(redisCache)
	} else {
		if cfg.RateLimitDistributed {
			log.Printf("[main] WARN distributed rate limiting requested but Redis is down, using local windows")
		}
		limitStore = ratelimit.NewLocalStore()
	}
	limiter := ratelimit.New(limitStore, categoriesFromConfig(cfg))

	// Device sessions
	sessions := session.NewManager(repository.NewSessionRepository(db), cfg.SessionTTL, cfg.SessionMaxDevices)

	// Periodic jobs: sweep expired sessions, reap idle limiter windows,
	// prune old usage events
	usageRepo := repository.NewUsageEventRepository(db)
	jobs := cron.New()
	jobs.AddFunc("@every "+cfg.SessionSweepEvery.String(), func() {
		if _, err := sessions.CleanupExpired(context.Background()); err != nil {
			log.Printf("[main] session sweep failed: %v", err)
		}
	})
	jobs.AddFunc("@every "+cfg.RateLimitReapEvery.String(), func() {
		limiter.Reap()
	})
	if cfg.UsageRetention > 0 {
		jobs.AddFunc("@every "+cfg.UsageSweepEvery.String(), func() {
			cutoff := time.Now().Add(-cfg.UsageRetention)
			if n, err := usageRepo.DeleteBefore(context.Background(), cutoff); err != nil {
				log.Printf("[main] usage retention sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[main] usage retention sweep removed %d events", n)
			}
		})
	}
	jobs.Start()
	defer jobs.Stop()

	// Create router
	router := api.NewRouter(cfg, db, appCache, limiter, sessions)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[main] Server listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[main] Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Server forced to shutdown: %v", err)
	}

	log.Println("[main] Server stopped")
}

// categoriesFromConfig maps the configured limits onto the limiter's
// request categories. Auth optionally fails closed when the store is down.
func categoriesFromConfig(cfg *config.Config) map[ratelimit.Category]ratelimit.CategoryConfig {
	authMode := ratelimit.FailOpen
	if cfg.AuthFailClosed {
		authMode = ratelimit.FailClosed
	}
	return map[ratelimit.Category]ratelimit.CategoryConfig{
		ratelimit.CategoryAuth: {
			Limit:    cfg.AuthRateLimit,
			Window:   cfg.AuthRateWindow,
			FailMode: authMode,
		},
		ratelimit.CategoryAPI: {
			Limit:  cfg.APIRateLimit,
			Window: cfg.APIRateWindow,
		},
		ratelimit.CategoryAdmin: {
			Limit:  cfg.AdminRateLimit,
			Window: cfg.AdminRateWindow,
		},
	}
}
