package handlers

import (
	"net/http"

	"github.com/studyloop/backend/internal/api/request"
	"github.com/studyloop/backend/internal/cache"
)

// CacheHandler exposes admin cache controls
type CacheHandler struct {
	cache *cache.Cache
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(c *cache.Cache) *CacheHandler {
	return &CacheHandler{cache: c}
}

// InvalidateTag drops every cache entry carrying the given tag. Used by
// operators after a plan change or content update.
// DELETE /api/v1/admin/cache/tags/{tag}
func (h *CacheHandler) InvalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := request.GetURLParam(r, "tag")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Tag required")
		return
	}

	removed := h.cache.InvalidateTag(r.Context(), tag)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag":     tag,
		"removed": removed,
	})
}

// ClearPattern bulk-deletes cache entries whose keys match a glob pattern,
// e.g. ?pattern=feedback:* after a prompt change.
// DELETE /api/v1/admin/cache/keys
func (h *CacheHandler) ClearPattern(w http.ResponseWriter, r *http.Request) {
	pattern := request.GetQueryString(r, "pattern", "")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Pattern required")
		return
	}

	removed := h.cache.ClearPattern(r.Context(), pattern)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pattern": pattern,
		"removed": removed,
	})
}
