package cacher

import (
	"context"
	"errors"
	"sync"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/event"
	"github.com/vertextoedge/convert-cache/internal/domain/vo"
	"github.com/vertextoedge/convert-cache/internal/port"
	"go.uber.org/zap"
)

// DefaultCacheName is the name every entry is stored under
const DefaultCacheName = "netless"

// Gateway owns the single memoized handle of the named cache.
type Gateway struct {
	storage    port.CacheStorage
	estimator  port.StorageEstimator
	name       string
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	mu      sync.Mutex
	pending *openCall
}

// openCall is the single in-flight (or completed) open shared by all callers.
type openCall struct {
	done   chan struct{}
	handle port.CacheHandle
	err    error
}

// NewGateway creates a new Gateway. estimator may be nil.
func NewGateway(
	storage port.CacheStorage,
	estimator port.StorageEstimator,
	name string,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Gateway {
	if name == "" {
		name = DefaultCacheName
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	return &Gateway{
		storage:    storage,
		estimator:  estimator,
		name:       name,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Name returns the cache name
func (g *Gateway) Name() string {
	return g.name
}

// OpenCache returns the memoized cache handle, opening it on first use.
// Concurrent callers wait on the same open; a failed open is forgotten so the
// next caller retries.
func (g *Gateway) OpenCache(ctx context.Context) (port.CacheHandle, error) {
	g.mu.Lock()
	call := g.pending
	if call == nil {
		call = &openCall{done: make(chan struct{})}
		g.pending = call
		g.mu.Unlock()

		// Waiters must not inherit the first caller's cancellation.
		call.handle, call.err = g.storage.Open(context.WithoutCancel(ctx), g.name)
		if call.err != nil {
			g.logger.Warn("failed to open cache",
				zap.String("cache", g.name),
				zap.Error(call.err))
			g.mu.Lock()
			if g.pending == call {
				g.pending = nil
			}
			g.mu.Unlock()
		} else {
			g.logger.Debug("cache opened", zap.String("cache", g.name))
		}
		close(call.done)
	} else {
		g.mu.Unlock()
	}

	select {
	case <-call.done:
		return call.handle, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeleteCache destroys the whole named cache and resets the memoized handle.
func (g *Gateway) DeleteCache(ctx context.Context) error {
	existed, err := g.storage.Delete(ctx, g.name)

	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()

	if err != nil {
		return err
	}

	g.dispatcher.Dispatch(event.NewCacheDestroyed(g.name, existed))
	return nil
}

// AvailableSpace reports storage usage in MB. Despite the name this is
// usage, not remaining quota. It never fails: an unsupported or failing
// estimate yields 0.
func (g *Gateway) AvailableSpace(ctx context.Context) float64 {
	if g.estimator == nil {
		return 0
	}

	estimate, err := g.estimator.Estimate(ctx)
	if err != nil {
		g.logger.Debug("storage estimate unavailable", zap.Error(err),
			zap.Bool("unsupported", errors.Is(err, domain.ErrEstimateUnsupported)))
		return 0
	}
	if estimate == nil || estimate.UsageBytes <= 0 {
		return 0
	}

	usage, err := vo.NewFileSize(estimate.UsageBytes)
	if err != nil {
		return 0
	}
	return usage.MB()
}
