package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/studyloop/backend/internal/cache"
	"github.com/studyloop/backend/internal/database"
)

// HealthChecker provides health check functionality
type HealthChecker struct {
	db    *database.DB
	cache *cache.Cache
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *database.DB, c *cache.Cache) *HealthChecker {
	return &HealthChecker{
		db:    db,
		cache: c,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health handles GET /health. A degraded cache does not fail the check;
// the API keeps serving without it.
func (h *HealthChecker) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	overallStatus := "healthy"

	if err := h.db.Ping(ctx); err != nil {
		services["database"] = "unhealthy"
		overallStatus = "degraded"
	} else {
		services["database"] = "healthy"
	}

	if h.cache.Healthy(ctx) {
		services["cache"] = "healthy"
	} else {
		services["cache"] = "degraded"
		overallStatus = "degraded"
	}

	resp := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	status := http.StatusOK
	if services["database"] == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
