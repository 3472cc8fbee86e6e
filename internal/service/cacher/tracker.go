package cacher

import (
	"sync"
	"time"

	"github.com/vertextoedge/convert-cache/internal/domain"
)

// tracker keeps the in-memory state of every task seen by this process
type tracker struct {
	mu       sync.Mutex
	statuses map[string]*domain.TaskStatus
}

func newTracker() *tracker {
	return &tracker{statuses: make(map[string]*domain.TaskStatus)}
}

// get returns a copy of the task status, or nil if the task is unknown
func (t *tracker) get(taskUUID string) *domain.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.statuses[taskUUID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (t *tracker) status(taskUUID string) *domain.TaskStatus {
	s, ok := t.statuses[taskUUID]
	if !ok {
		s = domain.NewTaskStatus(taskUUID)
		t.statuses[taskUUID] = s
	}
	return s
}

// transition moves the task to next. A task that is already downloading is
// left alone when asked to start downloading again.
func (t *tracker) transition(taskUUID string, next domain.TaskState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.status(taskUUID)
	if s.State == next && next == domain.TaskStateDownloading {
		return nil
	}
	return s.TransitionTo(next)
}

// markCached records a task found in the cache without running it
func (t *tracker) markCached(taskUUID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.status(taskUUID)
	if s.IsActive() || isFailed(s) {
		return
	}
	s.State = domain.TaskStateCached
	s.Progress = 1
	s.UpdatedAt = time.Now()
}

// failed reports whether the last run of the task ended in an error
func (t *tracker) failed(taskUUID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.statuses[taskUUID]
	return ok && isFailed(s)
}

func isFailed(s *domain.TaskStatus) bool {
	return s.State == domain.TaskStateAbsent && s.LastError != ""
}

func (t *tracker) progress(taskUUID string, p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.status(taskUUID)
	if s.State != domain.TaskStateDownloading {
		return
	}
	s.UpdateProgress(p)
}

func (t *tracker) fail(taskUUID string, err error, canceled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status(taskUUID).MarkFailed(err, canceled)
}

// forget drops the task unless it is running
func (t *tracker) forget(taskUUID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.statuses[taskUUID]; ok && !s.IsActive() {
		delete(t.statuses, taskUUID)
	}
}

// forgetAll drops every task that is not running
func (t *tracker) forgetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, s := range t.statuses {
		if !s.IsActive() {
			delete(t.statuses, id)
		}
	}
}

// prune drops finished tasks not updated within maxAge
func (t *tracker) prune(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	pruned := 0
	for id, s := range t.statuses {
		if s.IsActive() || s.UpdatedAt.After(cutoff) {
			continue
		}
		delete(t.statuses, id)
		pruned++
	}
	return pruned
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.statuses)
}
