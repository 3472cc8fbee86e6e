package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"go.uber.org/zap"
)

// ResourceHandler serves cached bundle entries
type ResourceHandler struct {
	cache   TaskCache
	locator *domain.Locator
	logger  *zap.Logger
}

// NewResourceHandler creates a new ResourceHandler
func NewResourceHandler(cache TaskCache, locator *domain.Locator, logger *zap.Logger) *ResourceHandler {
	return &ResourceHandler{
		cache:   cache,
		locator: locator,
		logger:  logger,
	}
}

// HandleResource serves GET /r/{type}/{name...}. An empty name serves the
// bundle root.
func (h *ResourceHandler) HandleResource(w http.ResponseWriter, r *http.Request) {
	rt, err := domain.ParseResourceType(r.PathValue("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	location := h.locator.Location(rt, r.PathValue("name"))

	cache, err := h.cache.OpenCache(r.Context())
	if err != nil {
		h.logger.Error("failed to open cache", zap.Error(err))
		writeError(w, err)
		return
	}

	entry, err := cache.Match(r.Context(), location)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Error("failed to match cache entry", zap.String("location", location), zap.Error(err))
		}
		writeError(w, err)
		return
	}

	contentType := entry.ContentType
	if contentType == "" {
		contentType = domain.DefaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(entry.Body)
	}
}
