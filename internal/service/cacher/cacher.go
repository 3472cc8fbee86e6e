package cacher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/event"
	"github.com/vertextoedge/convert-cache/internal/domain/vo"
	"github.com/vertextoedge/convert-cache/internal/port"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config contains cacher configuration
type Config struct {
	CacheName              string
	MaterializeConcurrency int
}

// DefaultConfig returns default cacher configuration
func DefaultConfig() *Config {
	return &Config{
		CacheName:              DefaultCacheName,
		MaterializeConcurrency: DefaultMaterializeConcurrency,
	}
}

// CacheOptions controls a single CacheTask call
type CacheOptions struct {
	// Force downloads the bundle even if the task is already cached
	Force bool
	// OnProgress, if set, receives download progress
	OnProgress ProgressFunc
}

// Cacher manages task bundles in the persistent cache
type Cacher struct {
	config       *Config
	gateway      *Gateway
	downloader   *Downloader
	materializer *Materializer
	tracker      *tracker
	dispatcher   event.EventDispatcher
	logger       *zap.Logger

	group singleflight.Group

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	jobs    map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Cacher
func New(
	cfg *Config,
	storage port.CacheStorage,
	estimator port.StorageEstimator,
	fetcher port.BundleFetcher,
	locator *domain.Locator,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Cacher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CacheName == "" {
		cfg.CacheName = DefaultCacheName
	}
	if cfg.MaterializeConcurrency <= 0 {
		cfg.MaterializeConcurrency = DefaultMaterializeConcurrency
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	gateway := NewGateway(storage, estimator, cfg.CacheName, dispatcher, logger)

	return &Cacher{
		config:       cfg,
		gateway:      gateway,
		downloader:   NewDownloader(fetcher, locator, dispatcher, logger),
		materializer: NewMaterializer(gateway, locator, cfg.MaterializeConcurrency, dispatcher, logger),
		tracker:      newTracker(),
		dispatcher:   dispatcher,
		logger:       logger,
		baseCtx:      context.Background(),
		jobs:         make(map[string]context.CancelFunc),
	}
}

// Gateway returns the cache gateway
func (c *Cacher) Gateway() *Gateway {
	return c.gateway
}

// OpenCache returns the memoized cache handle
func (c *Cacher) OpenCache(ctx context.Context) (port.CacheHandle, error) {
	return c.gateway.OpenCache(ctx)
}

// DeleteCache destroys the whole cache. Finished task records are dropped.
func (c *Cacher) DeleteCache(ctx context.Context) error {
	if err := c.gateway.DeleteCache(ctx); err != nil {
		return err
	}
	c.tracker.forgetAll()
	return nil
}

// AvailableSpace returns storage usage in MB, 0 when unknown
func (c *Cacher) AvailableSpace(ctx context.Context) float64 {
	return c.gateway.AvailableSpace(ctx)
}

// StartDownload fetches the bundle of a task without caching it
func (c *Cacher) StartDownload(ctx context.Context, taskUUID string, onProgress ProgressFunc) (*domain.Bundle, error) {
	return c.downloader.StartDownload(ctx, taskUUID, onProgress)
}

// HandleZipFile materializes a downloaded bundle into the cache
func (c *Cacher) HandleZipFile(ctx context.Context, bundle *domain.Bundle) (*MaterializeResult, error) {
	return c.materializer.HandleZipFile(ctx, bundle)
}

// HasTaskUUID reports whether any cache key contains taskUUID
func (c *Cacher) HasTaskUUID(ctx context.Context, taskUUID string) (bool, error) {
	id, err := parseTaskUUID(taskUUID)
	if err != nil {
		return false, err
	}

	cache, err := c.gateway.OpenCache(ctx)
	if err != nil {
		return false, err
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list cache keys: %w", err)
	}

	for _, key := range keys {
		if id.MatchesLocation(key) {
			return true, nil
		}
	}
	return false, nil
}

// DeleteTaskUUID deletes every cache entry whose key contains taskUUID and
// returns how many were removed.
func (c *Cacher) DeleteTaskUUID(ctx context.Context, taskUUID string) (int, error) {
	id, err := parseTaskUUID(taskUUID)
	if err != nil {
		return 0, err
	}

	deleted, err := c.deleteKeys(ctx, id.MatchesLocation)
	if err != nil {
		return deleted, err
	}

	c.tracker.forget(id.String())
	c.dispatcher.Dispatch(event.NewTaskCacheDeleted(id.String(), deleted))
	return deleted, nil
}

// ClearAllCache deletes every entry of the cache and returns how many were
// removed. The cache itself stays open.
func (c *Cacher) ClearAllCache(ctx context.Context) (int, error) {
	deleted, err := c.deleteKeys(ctx, func(string) bool { return true })
	if err != nil {
		return deleted, err
	}

	c.tracker.forgetAll()
	c.dispatcher.Dispatch(event.NewCacheCleared(c.gateway.Name(), deleted))
	return deleted, nil
}

func (c *Cacher) deleteKeys(ctx context.Context, match func(key string) bool) (int, error) {
	cache, err := c.gateway.OpenCache(ctx)
	if err != nil {
		return 0, err
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache keys: %w", err)
	}

	deleted := 0
	for _, key := range keys {
		if !match(key) {
			continue
		}
		ok, err := cache.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// CalculateCache returns the total payload size of the cache in MB. Entries
// that cannot be resolved count as zero.
func (c *Cacher) CalculateCache(ctx context.Context) (float64, error) {
	stats, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}
	return stats.SizeMB, nil
}

// Stats returns size, usage and entry counts of the cache
func (c *Cacher) Stats(ctx context.Context) (*domain.CacheStats, error) {
	stats, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	stats.UsageMB = c.gateway.AvailableSpace(ctx)
	return stats, nil
}

func (c *Cacher) scan(ctx context.Context) (*domain.CacheStats, error) {
	cache, err := c.gateway.OpenCache(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}

	stats := &domain.CacheStats{CacheName: c.gateway.Name()}
	total := vo.ZeroSize()
	for _, key := range keys {
		size, err := c.entrySize(ctx, cache, key)
		if err != nil {
			if domain.IsSkippable(err) {
				c.logger.Debug("skipping cache entry", zap.Error(err))
				stats.SkippedKeys++
				continue
			}
			return nil, err
		}
		stats.Entries++
		total = total.Add(size)
	}
	stats.SizeMB = total.MB()
	return stats, nil
}

func (c *Cacher) entrySize(ctx context.Context, cache port.CacheHandle, key string) (vo.FileSize, error) {
	if err := ctx.Err(); err != nil {
		return vo.ZeroSize(), err
	}
	entry, err := cache.Match(ctx, key)
	if err != nil {
		return vo.ZeroSize(), domain.NewSkippableError(err, "match "+key)
	}
	size, err := vo.NewFileSize(entry.Size())
	if err != nil {
		return vo.ZeroSize(), domain.NewSkippableError(err, "size "+key)
	}
	return size, nil
}

// CacheTask downloads and materializes the bundle of a task unless it is
// already cached. Concurrent calls for the same task share one run, cached
// check included, which is bound to the context of the call that started it.
func (c *Cacher) CacheTask(ctx context.Context, taskUUID string, opts *CacheOptions) error {
	if opts == nil {
		opts = &CacheOptions{}
	}
	id, err := parseTaskUUID(taskUUID)
	if err != nil {
		return err
	}

	_, err, shared := c.group.Do(id.String(), func() (interface{}, error) {
		if !opts.Force {
			cached, err := c.isCached(ctx, id.String())
			if err != nil {
				return nil, err
			}
			if cached {
				c.tracker.markCached(id.String())
				c.logger.Debug("task already cached", zap.String("task_uuid", id.String()))
				return nil, nil
			}
		}
		return nil, c.run(ctx, id.String(), opts.OnProgress)
	})
	if shared {
		c.logger.Debug("joined in-flight task", zap.String("task_uuid", id.String()))
	}
	return err
}

// isCached reports whether the task can be skipped. Entries left behind by a
// failed run do not count.
func (c *Cacher) isCached(ctx context.Context, taskUUID string) (bool, error) {
	if c.tracker.failed(taskUUID) {
		return false, nil
	}
	return c.HasTaskUUID(ctx, taskUUID)
}

func (c *Cacher) run(ctx context.Context, taskUUID string, onProgress ProgressFunc) error {
	if err := c.tracker.transition(taskUUID, domain.TaskStateDownloading); err != nil {
		return err
	}

	bundle, err := c.downloader.StartDownload(ctx, taskUUID, func(progress float64, cancel context.CancelFunc) {
		c.tracker.progress(taskUUID, progress)
		if onProgress != nil {
			onProgress(progress, cancel)
		}
	})
	if err != nil {
		canceled := errors.Is(err, domain.ErrDownloadCanceled)
		c.tracker.fail(taskUUID, err, canceled)
		if canceled {
			c.logger.Info("download canceled", zap.String("task_uuid", taskUUID))
		} else {
			fields := []zap.Field{zap.String("task_uuid", taskUUID), zap.Error(err)}
			if d, ok := domain.GetRetryAfter(err); ok && d > 0 {
				fields = append(fields, zap.Duration("retry_after", d))
			}
			c.logger.Warn("download failed", fields...)
		}
		return err
	}

	if err := c.tracker.transition(taskUUID, domain.TaskStateMaterializing); err != nil {
		return err
	}

	if _, err := c.materializer.HandleZipFile(ctx, bundle); err != nil {
		c.tracker.fail(taskUUID, err, false)
		return err
	}

	return c.tracker.transition(taskUUID, domain.TaskStateCached)
}

// StartTask caches a task in the background. It fails with
// domain.ErrTaskRunning if the task was already started by this Cacher.
func (c *Cacher) StartTask(taskUUID string, force bool) error {
	id, err := parseTaskUUID(taskUUID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.jobs[id.String()]; ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskRunning, id)
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.jobs[id.String()] = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.jobs, id.String())
			c.mu.Unlock()
			cancel()
		}()

		if err := c.CacheTask(ctx, id.String(), &CacheOptions{Force: force}); err != nil {
			c.logger.Debug("background task finished with error",
				zap.String("task_uuid", id.String()),
				zap.Error(err))
		}
	}()

	return nil
}

// CancelTask aborts the download of a background task. Returns false if the
// task is not running. Materialization already in progress runs to completion.
func (c *Cacher) CancelTask(taskUUID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cancel, ok := c.jobs[strings.TrimSpace(taskUUID)]
	if !ok {
		return false
	}
	cancel()
	return true
}

// Status returns the tracked status of a task. Tasks this process has not
// seen are reported as cached or absent from the cache contents.
func (c *Cacher) Status(ctx context.Context, taskUUID string) (*domain.TaskStatus, error) {
	id, err := parseTaskUUID(taskUUID)
	if err != nil {
		return nil, err
	}

	if s := c.tracker.get(id.String()); s != nil {
		return s, nil
	}

	s := domain.NewTaskStatus(id.String())
	cached, err := c.HasTaskUUID(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if cached {
		s.State = domain.TaskStateCached
		s.Progress = 1
	}
	return s, nil
}

// PruneTaskStates drops finished task records older than maxAge
func (c *Cacher) PruneTaskStates(maxAge time.Duration) int {
	return c.tracker.prune(maxAge)
}

// TrackedTasks returns the number of task records held in memory
func (c *Cacher) TrackedTasks() int {
	return c.tracker.count()
}

// Start binds background tasks to ctx and blocks until it is done, then
// cancels and waits for every background task.
func (c *Cacher) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("cacher already running")
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.baseCtx = ctx
	c.mu.Unlock()

	c.logger.Info("cacher started",
		zap.String("cache", c.gateway.Name()),
		zap.Int("materialize_concurrency", c.config.MaterializeConcurrency))

	<-ctx.Done()

	c.mu.Lock()
	for _, cancel := range c.jobs {
		cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("cacher stopped")
	return nil
}

// Stop stops the cacher
func (c *Cacher) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
}

func parseTaskUUID(taskUUID string) (vo.TaskUUID, error) {
	id, err := vo.NewTaskUUID(taskUUID)
	if err != nil {
		return vo.TaskUUID{}, fmt.Errorf("%w: %v", domain.ErrInvalidTaskUUID, err)
	}
	return id, nil
}
