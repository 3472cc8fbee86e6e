package cacher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/event"
	"github.com/vertextoedge/convert-cache/internal/domain/vo"
	"github.com/vertextoedge/convert-cache/internal/port"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaterializeConcurrency bounds concurrent entry writes
const DefaultMaterializeConcurrency = 8

// MaterializeResult summarizes a materialized bundle
type MaterializeResult struct {
	ResourceType domain.ResourceType
	Entries      int
	Bytes        int64
}

// Materializer writes every entry of a bundle into the cache
type Materializer struct {
	gateway     *Gateway
	locator     *domain.Locator
	concurrency int
	dispatcher  event.EventDispatcher
	logger      *zap.Logger
}

// NewMaterializer creates a new Materializer
func NewMaterializer(
	gateway *Gateway,
	locator *domain.Locator,
	concurrency int,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Materializer {
	if concurrency <= 0 {
		concurrency = DefaultMaterializeConcurrency
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	return &Materializer{
		gateway:     gateway,
		locator:     locator,
		concurrency: concurrency,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// HandleZipFile unpacks the bundle and stores each file entry under
// https://{host}/{resourceType}/{name}. index.html is additionally stored at
// the resource type root. Writes run concurrently; the first failure is
// returned once every started write has finished. Entries already written
// stay in the cache.
//
// Materialization is not cancellable: ctx only carries values.
func (m *Materializer) HandleZipFile(ctx context.Context, bundle *domain.Bundle) (*MaterializeResult, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	// An insecure path error still returns a usable reader; names are
	// validated per entry below.
	zr, err := zip.NewReader(bytes.NewReader(bundle.Data), int64(len(bundle.Data)))
	if zr == nil {
		return nil, m.fail(bundle, fmt.Errorf("%w: %v", domain.ErrInvalidArchive, err))
	}

	cache, err := m.gateway.OpenCache(ctx)
	if err != nil {
		return nil, m.fail(bundle, fmt.Errorf("failed to open cache: %w", err))
	}

	rt := bundle.ResourceType()

	var entries atomic.Int64
	var written atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		g.Go(func() error {
			n, err := m.cacheEntry(gctx, cache, rt, f)
			if err != nil {
				return err
			}
			entries.Add(1)
			written.Add(n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, m.fail(bundle, err)
	}

	result := &MaterializeResult{
		ResourceType: rt,
		Entries:      int(entries.Load()),
		Bytes:        written.Load(),
	}

	m.logger.Info("bundle materialized",
		zap.String("task_uuid", bundle.TaskUUID),
		zap.String("resource_type", string(rt)),
		zap.Int("entries", result.Entries),
		zap.String("size", humanize.IBytes(uint64(result.Bytes))),
		zap.Duration("duration", time.Since(start)))

	m.dispatcher.Dispatch(event.NewBundleCached(bundle.TaskUUID, string(rt), result.Entries, result.Bytes, time.Since(start)))
	return result, nil
}

// cacheEntry reads one archive file and puts it into the cache
func (m *Materializer) cacheEntry(ctx context.Context, cache port.CacheHandle, rt domain.ResourceType, f *zip.File) (int64, error) {
	name, err := vo.NewEntryName(f.Name)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", domain.ErrInvalidEntryName, f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %q: %v", domain.ErrInvalidArchive, f.Name, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return 0, fmt.Errorf("%w: read %q: %v", domain.ErrInvalidArchive, f.Name, err)
	}

	contentType := domain.ContentTypeFor(name.String())

	if name.IsIndex() {
		root := &domain.CacheEntry{
			Location:    m.locator.RootLocation(rt),
			ContentType: contentType,
			Body:        data,
		}
		if err := cache.Put(ctx, root); err != nil {
			return 0, fmt.Errorf("failed to cache %s: %w", root.Location, err)
		}
	}

	entry := &domain.CacheEntry{
		Location:    m.locator.Location(rt, name.String()),
		ContentType: contentType,
		Body:        data,
	}
	if err := cache.Put(ctx, entry); err != nil {
		return 0, fmt.Errorf("failed to cache %s: %w", entry.Location, err)
	}

	return entry.Size(), nil
}

func (m *Materializer) fail(bundle *domain.Bundle, err error) error {
	m.logger.Warn("bundle materialization failed",
		zap.String("task_uuid", bundle.TaskUUID),
		zap.Error(err))
	m.dispatcher.Dispatch(event.NewMaterializeFailed(bundle.TaskUUID, err.Error()))
	return err
}
