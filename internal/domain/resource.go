package domain

import (
	"fmt"
	"strings"
)

// ResourceType is the URL path segment entries of a bundle are stored under.
type ResourceType string

const (
	ResourceTypeDynamic ResourceType = "dynamicConvert"
	ResourceTypeStatic  ResourceType = "staticConvert"
)

// DefaultContentType is used for unknown or missing extensions.
const DefaultContentType = "text/plain"

var contentTypesByExtension = map[string]string{
	"css":  "text/css",
	"js":   "application/javascript",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"html": "text/html",
	"htm":  "text/html",
	"json": "application/json",
	"svg":  "image/svg+xml",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// ResourceTypeFromURL infers the resource type of a bundle from the URL it
// was fetched from.
func ResourceTypeFromURL(url string) ResourceType {
	if strings.Contains(strings.ToLower(url), "dynamic") {
		return ResourceTypeDynamic
	}
	return ResourceTypeStatic
}

// ParseResourceType validates a path segment.
func ParseResourceType(s string) (ResourceType, error) {
	switch ResourceType(s) {
	case ResourceTypeDynamic, ResourceTypeStatic:
		return ResourceType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown resource type %q", ErrInvalidInput, s)
	}
}

// ContentTypeFor returns the MIME type for a filename based on the text
// after its last dot.
func ContentTypeFor(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return DefaultContentType
	}
	ext := strings.ToLower(filename[idx+1:])
	if ct, ok := contentTypesByExtension[ext]; ok {
		return ct
	}
	return DefaultContentType
}

// Locator builds cache locations and bundle URLs for one resources host.
type Locator struct {
	host    string
	baseURL string
}

// NewLocator creates a Locator. downloadBaseURL may be empty, in which case
// bundles are fetched from https://{host}.
func NewLocator(host, downloadBaseURL string) *Locator {
	if downloadBaseURL == "" {
		downloadBaseURL = "https://" + host
	}
	return &Locator{
		host:    host,
		baseURL: strings.TrimRight(downloadBaseURL, "/"),
	}
}

// Host returns the resources host
func (l *Locator) Host() string {
	return l.host
}

// BundleURL returns the zip location of a task's bundle.
func (l *Locator) BundleURL(taskUUID string) string {
	return fmt.Sprintf("%s/%s/%s.zip", l.baseURL, ResourceTypeDynamic, taskUUID)
}

// Location returns the cache key for a bundle entry.
func (l *Locator) Location(rt ResourceType, filename string) string {
	return fmt.Sprintf("https://%s/%s/%s", l.host, rt, filename)
}

// RootLocation returns the cache key under which a bundle's index.html is
// also stored.
func (l *Locator) RootLocation(rt ResourceType) string {
	return l.Location(rt, "")
}
