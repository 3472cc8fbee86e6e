package cdn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/event"
	"github.com/vertextoedge/convert-cache/internal/port"
	"github.com/vertextoedge/convert-cache/internal/util/ratelimiter"
)

// ClientConfig contains optional client configuration
type ClientConfig struct {
	BufferSizeMB          int           // Read buffer size in MB (default: 1)
	ProgressInterval      time.Duration // Minimum gap between progress events
	ResponseHeaderTimeout time.Duration // Not a total download timeout
}

// Client fetches bundle archives from the conversion CDN
type Client struct {
	httpClient       *http.Client
	dispatcher       event.EventDispatcher
	progressInterval time.Duration
}

// Ensure Client implements port.BundleFetcher
var _ port.BundleFetcher = (*Client)(nil)

// NewClient creates a new CDN client. Progress is published on dispatcher
// as event.FetchProgress.
func NewClient(dispatcher event.EventDispatcher, cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	bufferSize := 1024 * 1024
	if cfg.BufferSizeMB > 0 {
		bufferSize = cfg.BufferSizeMB * 1024 * 1024
	}
	headerTimeout := cfg.ResponseHeaderTimeout
	if headerTimeout == 0 {
		headerTimeout = 30 * time.Second
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ReadBufferSize:      bufferSize,
		ForceAttemptHTTP2:   true,

		// Bundles are already compressed.
		DisableCompression: true,

		ResponseHeaderTimeout: headerTimeout,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   0, // Cancellation is the caller's, via ctx
		},
		dispatcher:       dispatcher,
		progressInterval: cfg.ProgressInterval,
	}
}

// NewClientWithHTTPClient wraps an existing http.Client
func NewClientWithHTTPClient(httpClient *http.Client, dispatcher event.EventDispatcher, progressInterval time.Duration) *Client {
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	return &Client{
		httpClient:       httpClient,
		dispatcher:       dispatcher,
		progressInterval: progressInterval,
	}
}

// Fetch issues a GET for url. Non-200 responses are returned without a body
// and without an error; the caller decides what a bad status means.
func (c *Client) Fetch(ctx context.Context, url string) (*port.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDownloadCanceled, ctxErr)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	result := &port.FetchResponse{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
	}

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		io.CopyN(io.Discard, resp.Body, 64*1024)
		return result, nil
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}

	pr := &progressReader{
		reader:     resp.Body,
		url:        url,
		total:      resp.ContentLength,
		limiter:    ratelimiter.New(c.progressInterval),
		dispatcher: c.dispatcher,
	}

	if _, err := io.Copy(&buf, pr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDownloadCanceled, ctxErr)
		}
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	pr.finish()

	result.Body = buf.Bytes()
	return result, nil
}

// progressReader wraps a reader to broadcast fetch progress
type progressReader struct {
	reader     io.Reader
	url        string
	total      int64
	bytesRead  int64
	limiter    *ratelimiter.Limiter
	dispatcher event.EventDispatcher
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead += int64(n)

	if n > 0 && r.total > 0 && r.limiter.Allow() {
		r.publish(float64(r.bytesRead) / float64(r.total))
	}

	return n, err
}

// finish always reports completion, regardless of throttling or a missing
// Content-Length.
func (r *progressReader) finish() {
	r.publish(1)
}

func (r *progressReader) publish(progress float64) {
	r.dispatcher.Dispatch(event.NewFetchProgress(r.url, domain.ClampProgress(progress)))
}
