package event

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case FetchProgress:
		// Too chatty for info.
		h.logger.Debug("fetch progress",
			zap.String("url", e.URL),
			zap.Float64("progress", e.Progress),
		)
	case BundleDownloaded:
		h.logger.Info("bundle downloaded",
			zap.String("task_uuid", e.TaskUUID),
			zap.String("url", e.URL),
			zap.String("size", humanize.IBytes(uint64(e.Size))),
			zap.Duration("duration", e.Duration),
		)
	case BundleDownloadFailed:
		h.logger.Warn("bundle download failed",
			zap.String("task_uuid", e.TaskUUID),
			zap.String("error", e.Error),
			zap.Int("status", e.StatusCode),
			zap.Bool("canceled", e.Canceled),
		)
	case BundleCached:
		h.logger.Info("bundle cached",
			zap.String("task_uuid", e.TaskUUID),
			zap.String("resource_type", e.ResourceType),
			zap.Int("entries", e.Entries),
			zap.String("size", humanize.IBytes(uint64(e.Bytes))),
			zap.Duration("duration", e.Duration),
		)
	case MaterializeFailed:
		h.logger.Error("bundle materialization failed",
			zap.String("task_uuid", e.TaskUUID),
			zap.String("error", e.Error),
		)
	case TaskCacheDeleted:
		h.logger.Info("task cache deleted",
			zap.String("task_uuid", e.TaskUUID),
			zap.Int("deleted", e.Deleted),
		)
	case CacheCleared:
		h.logger.Info("cache cleared",
			zap.String("cache", e.CacheName),
			zap.Int("deleted", e.Deleted),
		)
	case CacheDestroyed:
		h.logger.Info("cache destroyed",
			zap.String("cache", e.CacheName),
			zap.Bool("existed", e.Existed),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{NameAll}
}

// MetricsHandler collects counters from events
type MetricsHandler struct {
	bundlesDownloaded atomic.Int64
	bundlesCached     atomic.Int64
	downloadsFailed   atomic.Int64
	downloadsCanceled atomic.Int64
	materializeFailed atomic.Int64
	bytesDownloaded   atomic.Int64
	entriesWritten    atomic.Int64
	taskDeletes       atomic.Int64
	cacheClears       atomic.Int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case BundleDownloaded:
		h.bundlesDownloaded.Add(1)
		h.bytesDownloaded.Add(e.Size)
	case BundleCached:
		h.bundlesCached.Add(1)
		h.entriesWritten.Add(int64(e.Entries))
	case BundleDownloadFailed:
		if e.Canceled {
			h.downloadsCanceled.Add(1)
		} else {
			h.downloadsFailed.Add(1)
		}
	case MaterializeFailed:
		h.materializeFailed.Add(1)
	case TaskCacheDeleted:
		h.taskDeletes.Add(1)
	case CacheCleared, CacheDestroyed:
		h.cacheClears.Add(1)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameBundleDownloaded,
		NameBundleCached,
		NameDownloadFailed,
		NameMaterializeFailed,
		NameTaskCacheDeleted,
		NameCacheCleared,
		NameCacheDestroyed,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	return map[string]int64{
		"bundles_downloaded": h.bundlesDownloaded.Load(),
		"bundles_cached":     h.bundlesCached.Load(),
		"downloads_failed":   h.downloadsFailed.Load(),
		"downloads_canceled": h.downloadsCanceled.Load(),
		"materialize_failed": h.materializeFailed.Load(),
		"bytes_downloaded":   h.bytesDownloaded.Load(),
		"entries_written":    h.entriesWritten.Load(),
		"task_deletes":       h.taskDeletes.Load(),
		"cache_clears":       h.cacheClears.Load(),
	}
}
