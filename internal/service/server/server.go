package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/port"
	"go.uber.org/zap"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "0.0.0.0:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// TaskCache is the cache manager the API drives
type TaskCache interface {
	OpenCache(ctx context.Context) (port.CacheHandle, error)
	DeleteCache(ctx context.Context) error
	HasTaskUUID(ctx context.Context, taskUUID string) (bool, error)
	DeleteTaskUUID(ctx context.Context, taskUUID string) (int, error)
	ClearAllCache(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*domain.CacheStats, error)
	StartTask(taskUUID string, force bool) error
	CancelTask(taskUUID string) bool
	Status(ctx context.Context, taskUUID string) (*domain.TaskStatus, error)
}

// MetricsSource exposes event counters
type MetricsSource interface {
	GetMetrics() map[string]int64
}

// Server represents the HTTP API server
type Server struct {
	config          *Config
	storage         port.CacheStorage
	logger          *zap.Logger
	server          *http.Server
	taskHandler     *TaskHandler
	cacheHandler    *CacheHandler
	resourceHandler *ResourceHandler
	debugHandler    *DebugHandler
}

// New creates a new HTTP server
func New(
	cfg *Config,
	cache TaskCache,
	storage port.CacheStorage,
	locator *domain.Locator,
	metrics MetricsSource,
	logger *zap.Logger,
) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:  cfg,
		storage: storage,
		logger:  logger,
	}

	s.taskHandler = NewTaskHandler(cache, logger)
	s.cacheHandler = NewCacheHandler(cache, logger)
	s.resourceHandler = NewResourceHandler(cache, locator, logger)
	s.debugHandler = NewDebugHandler(cache, metrics, logger)

	// Destructive and debug endpoints require credentials when configured.
	admin := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if cfg.AdminUsername != "" {
		admin = BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Task lifecycle
	mux.HandleFunc("POST /tasks/{uuid}", s.taskHandler.HandleStart)
	mux.HandleFunc("GET /tasks/{uuid}", s.taskHandler.HandleStatus)
	mux.HandleFunc("POST /tasks/{uuid}/cancel", s.taskHandler.HandleCancel)
	mux.HandleFunc("DELETE /tasks/{uuid}", s.taskHandler.HandleDelete)

	// Whole cache
	mux.HandleFunc("GET /cache/stats", s.cacheHandler.HandleStats)
	mux.HandleFunc("DELETE /cache", admin(s.cacheHandler.HandleClear))

	// Cached resources
	mux.HandleFunc("GET /r/{type}/{name...}", s.resourceHandler.HandleResource)

	// Debug endpoints
	mux.HandleFunc("GET /debug/metrics", admin(s.debugHandler.HandleMetrics))
	mux.HandleFunc("GET /debug/stats", admin(s.debugHandler.HandleStats))

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      RequestIDMiddleware(LoggingMiddleware(logger)(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidTaskUUID), errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrTaskRunning):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
