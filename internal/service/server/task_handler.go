package server

import (
	"net/http"
	"strconv"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"go.uber.org/zap"
)

// TaskHandler handles per-task requests
type TaskHandler struct {
	cache  TaskCache
	logger *zap.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(cache TaskCache, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		cache:  cache,
		logger: logger,
	}
}

type taskResponse struct {
	*domain.TaskStatus
	Cached bool `json:"cached"`
}

// HandleStart starts caching a task in the background: POST /tasks/{uuid}
func (h *TaskHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := h.cache.StartTask(id, force); err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("task accepted",
		zap.String("task_uuid", id),
		zap.Bool("force", force),
		zap.String("request_id", RequestID(r.Context())))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_uuid": id,
		"force":     force,
	})
}

// HandleStatus reports a task's state: GET /tasks/{uuid}
func (h *TaskHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")

	status, err := h.cache.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	cached, err := h.cache.HasTaskUUID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, taskResponse{TaskStatus: status, Cached: cached})
}

// HandleCancel aborts an in-flight download: POST /tasks/{uuid}/cancel
func (h *TaskHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")

	if !h.cache.CancelTask(id) {
		writeError(w, domain.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_uuid": id,
		"canceled":  true,
	})
}

// HandleDelete cancels and evicts a task: DELETE /tasks/{uuid}
func (h *TaskHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("uuid")

	canceled := h.cache.CancelTask(id)
	deleted, err := h.cache.DeleteTaskUUID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to delete task cache", zap.String("task_uuid", id), zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_uuid": id,
		"deleted":   deleted,
		"canceled":  canceled,
	})
}
