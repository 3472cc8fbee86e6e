package server

import (
	"net/http"

	"go.uber.org/zap"
)

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	cache   TaskCache
	metrics MetricsSource
	logger  *zap.Logger
}

// NewDebugHandler creates a new DebugHandler
func NewDebugHandler(cache TaskCache, metrics MetricsSource, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleMetrics returns event counters
func (h *DebugHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusOK, map[string]int64{})
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.GetMetrics())
}

// HandleStats returns cache stats together with event counters
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get cache stats", zap.Error(err))
		writeError(w, err)
		return
	}

	response := map[string]interface{}{
		"stats": stats,
	}
	if h.metrics != nil {
		response["metrics"] = h.metrics.GetMetrics()
	}

	writeJSON(w, http.StatusOK, response)
}
