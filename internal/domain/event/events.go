package event

import (
	"time"
)

// Event names
const (
	NameFetchProgress     = "fetch-progress"
	NameBundleDownloaded  = "bundle.downloaded"
	NameDownloadFailed    = "bundle.download_failed"
	NameBundleCached      = "bundle.cached"
	NameMaterializeFailed = "bundle.materialize_failed"
	NameTaskCacheDeleted  = "task.cache_deleted"
	NameCacheCleared      = "cache.cleared"
	NameCacheDestroyed    = "cache.destroyed"
	NameAll               = "*"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// FetchProgress is broadcast by the transport while a bundle body is read.
// Subscribers match URL against their own task uuid.
type FetchProgress struct {
	BaseEvent
	URL      string
	Progress float64
}

// EventName returns the event name
func (e FetchProgress) EventName() string {
	return NameFetchProgress
}

// NewFetchProgress creates a new FetchProgress event
func NewFetchProgress(url string, progress float64) FetchProgress {
	return FetchProgress{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		URL:       url,
		Progress:  progress,
	}
}

// BundleDownloaded is raised when a bundle archive has been fetched
type BundleDownloaded struct {
	BaseEvent
	TaskUUID string
	URL      string
	Size     int64
	Duration time.Duration
}

// EventName returns the event name
func (e BundleDownloaded) EventName() string {
	return NameBundleDownloaded
}

// NewBundleDownloaded creates a new BundleDownloaded event
func NewBundleDownloaded(taskUUID, url string, size int64, duration time.Duration) BundleDownloaded {
	return BundleDownloaded{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		TaskUUID:  taskUUID,
		URL:       url,
		Size:      size,
		Duration:  duration,
	}
}

// BundleDownloadFailed is raised when a fetch fails or is canceled
type BundleDownloadFailed struct {
	BaseEvent
	TaskUUID   string
	Error      string
	StatusCode int
	Canceled   bool
}

// EventName returns the event name
func (e BundleDownloadFailed) EventName() string {
	return NameDownloadFailed
}

// NewBundleDownloadFailed creates a new BundleDownloadFailed event
func NewBundleDownloadFailed(taskUUID, err string, statusCode int, canceled bool) BundleDownloadFailed {
	return BundleDownloadFailed{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		TaskUUID:   taskUUID,
		Error:      err,
		StatusCode: statusCode,
		Canceled:   canceled,
	}
}

// BundleCached is raised when every entry of a bundle has been written
type BundleCached struct {
	BaseEvent
	TaskUUID     string
	ResourceType string
	Entries      int
	Bytes        int64
	Duration     time.Duration
}

// EventName returns the event name
func (e BundleCached) EventName() string {
	return NameBundleCached
}

// NewBundleCached creates a new BundleCached event
func NewBundleCached(taskUUID, resourceType string, entries int, bytes int64, duration time.Duration) BundleCached {
	return BundleCached{
		BaseEvent:    BaseEvent{Timestamp: time.Now()},
		TaskUUID:     taskUUID,
		ResourceType: resourceType,
		Entries:      entries,
		Bytes:        bytes,
		Duration:     duration,
	}
}

// MaterializeFailed is raised when writing a bundle's entries fails
type MaterializeFailed struct {
	BaseEvent
	TaskUUID string
	Error    string
}

// EventName returns the event name
func (e MaterializeFailed) EventName() string {
	return NameMaterializeFailed
}

// NewMaterializeFailed creates a new MaterializeFailed event
func NewMaterializeFailed(taskUUID, err string) MaterializeFailed {
	return MaterializeFailed{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		TaskUUID:  taskUUID,
		Error:     err,
	}
}

// TaskCacheDeleted is raised after the entries of one task were deleted
type TaskCacheDeleted struct {
	BaseEvent
	TaskUUID string
	Deleted  int
}

// EventName returns the event name
func (e TaskCacheDeleted) EventName() string {
	return NameTaskCacheDeleted
}

// NewTaskCacheDeleted creates a new TaskCacheDeleted event
func NewTaskCacheDeleted(taskUUID string, deleted int) TaskCacheDeleted {
	return TaskCacheDeleted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		TaskUUID:  taskUUID,
		Deleted:   deleted,
	}
}

// CacheCleared is raised after every entry of the cache was deleted
type CacheCleared struct {
	BaseEvent
	CacheName string
	Deleted   int
}

// EventName returns the event name
func (e CacheCleared) EventName() string {
	return NameCacheCleared
}

// NewCacheCleared creates a new CacheCleared event
func NewCacheCleared(cacheName string, deleted int) CacheCleared {
	return CacheCleared{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		CacheName: cacheName,
		Deleted:   deleted,
	}
}

// CacheDestroyed is raised when the whole named cache was deleted
type CacheDestroyed struct {
	BaseEvent
	CacheName string
	Existed   bool
}

// EventName returns the event name
func (e CacheDestroyed) EventName() string {
	return NameCacheDestroyed
}

// NewCacheDestroyed creates a new CacheDestroyed event
func NewCacheDestroyed(cacheName string, existed bool) CacheDestroyed {
	return CacheDestroyed{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		CacheName: cacheName,
		Existed:   existed,
	}
}
