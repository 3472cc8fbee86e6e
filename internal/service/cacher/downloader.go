package cacher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/event"
	"github.com/vertextoedge/convert-cache/internal/domain/vo"
	"github.com/vertextoedge/convert-cache/internal/port"
	"go.uber.org/zap"
)

// ProgressFunc receives download progress in [0,1] together with the cancel
// function of the download it belongs to.
type ProgressFunc func(progress float64, cancel context.CancelFunc)

// Downloader fetches task bundles
type Downloader struct {
	fetcher    port.BundleFetcher
	locator    *domain.Locator
	dispatcher event.EventDispatcher
	logger     *zap.Logger
}

// NewDownloader creates a new Downloader
func NewDownloader(
	fetcher port.BundleFetcher,
	locator *domain.Locator,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Downloader {
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	return &Downloader{
		fetcher:    fetcher,
		locator:    locator,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// StartDownload fetches the bundle of taskUUID. While the body is read,
// onProgress (if non-nil) is called with every progress event whose URL
// contains the task uuid. The cancel handed to onProgress aborts only this
// download.
func (d *Downloader) StartDownload(ctx context.Context, taskUUID string, onProgress ProgressFunc) (*domain.Bundle, error) {
	id, err := vo.NewTaskUUID(taskUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTaskUUID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if onProgress != nil {
		handler := event.NewHandlerFunc(func(e event.DomainEvent) {
			fp, ok := e.(event.FetchProgress)
			if !ok || !strings.Contains(fp.URL, id.String()) {
				return
			}
			onProgress(fp.Progress, cancel)
		}, event.NameFetchProgress)
		d.dispatcher.Subscribe(handler)
		defer d.dispatcher.Unsubscribe(handler)
	}

	url := d.locator.BundleURL(id.String())
	start := time.Now()

	d.logger.Debug("downloading bundle",
		zap.String("task_uuid", id.String()),
		zap.String("url", url))

	resp, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		canceled := errors.Is(err, domain.ErrDownloadCanceled) || ctx.Err() != nil
		if canceled && !errors.Is(err, domain.ErrDownloadCanceled) {
			err = fmt.Errorf("%w: %w", domain.ErrDownloadCanceled, err)
		}
		d.dispatcher.Dispatch(event.NewBundleDownloadFailed(id.String(), err.Error(), 0, canceled))
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := domain.NewDownloadError(id.String(), resp.StatusCode, retryAfter(resp.Header, time.Now()))
		d.dispatcher.Dispatch(event.NewBundleDownloadFailed(id.String(), err.Error(), resp.StatusCode, false))
		return nil, err
	}

	bundle := &domain.Bundle{
		TaskUUID:    id.String(),
		URL:         resp.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Data:        resp.Body,
	}
	if bundle.URL == "" {
		bundle.URL = url
	}

	d.dispatcher.Dispatch(event.NewBundleDownloaded(id.String(), bundle.URL, int64(len(bundle.Data)), time.Since(start)))
	return bundle, nil
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
