package domain

// IndexEntryName is the archive entry that is also cached at the bundle root.
const IndexEntryName = "index.html"

// Bundle is a downloaded, not yet materialized, task archive.
type Bundle struct {
	TaskUUID    string
	URL         string // final response URL, after redirects
	StatusCode  int
	ContentType string
	Data        []byte
}

// ResourceType returns the resource type of all entries in the bundle.
func (b *Bundle) ResourceType() ResourceType {
	return ResourceTypeFromURL(b.URL)
}

// CacheEntry is one (location, payload, content-type) triple.
type CacheEntry struct {
	Location    string
	ContentType string
	Body        []byte
}

// Size returns the payload size in bytes
func (e *CacheEntry) Size() int64 {
	return int64(len(e.Body))
}

// CacheStats summarizes the persistent cache
type CacheStats struct {
	CacheName   string  `json:"cache_name"`
	Entries     int     `json:"entries"`
	SizeMB      float64 `json:"size_mb"`
	UsageMB     float64 `json:"usage_mb"`
	SkippedKeys int     `json:"skipped_keys"`
}
