package port

import (
	"context"
	"net/http"
)

// FetchResponse is the result of a bundle GET.
// Body is only populated for 200 responses.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// BundleFetcher issues cancellable GETs for bundle archives and broadcasts
// fetch progress while reading the body.
type BundleFetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResponse, error)
}
