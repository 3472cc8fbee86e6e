package server

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// CacheHandler handles whole-cache requests
type CacheHandler struct {
	cache  TaskCache
	logger *zap.Logger
}

// NewCacheHandler creates a new CacheHandler
func NewCacheHandler(cache TaskCache, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{
		cache:  cache,
		logger: logger,
	}
}

// HandleStats reports cache size and usage: GET /cache/stats
func (h *CacheHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get cache stats", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleClear deletes every entry: DELETE /cache.
// With ?destroy=true the whole cache is destroyed instead.
func (h *CacheHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	destroy, _ := strconv.ParseBool(r.URL.Query().Get("destroy"))

	if destroy {
		if err := h.cache.DeleteCache(r.Context()); err != nil {
			h.logger.Error("failed to destroy cache", zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"destroyed": true})
		return
	}

	deleted, err := h.cache.ClearAllCache(r.Context())
	if err != nil {
		h.logger.Error("failed to clear cache", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}
