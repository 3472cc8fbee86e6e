package domain

import (
	"fmt"
	"time"
)

// TaskState is the cache state of one task bundle
type TaskState string

// Task state constants
const (
	TaskStateAbsent        TaskState = "absent"
	TaskStateDownloading   TaskState = "downloading"
	TaskStateMaterializing TaskState = "materializing"
	TaskStateCached        TaskState = "cached"
)

// allowed lists the forward transitions; any state may move to absent.
var allowed = map[TaskState][]TaskState{
	TaskStateAbsent:        {TaskStateDownloading},
	TaskStateDownloading:   {TaskStateMaterializing},
	TaskStateMaterializing: {TaskStateCached},
	TaskStateCached:        {TaskStateDownloading},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to TaskState) bool {
	if to == TaskStateAbsent {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TaskStatus is the tracked status of a task
type TaskStatus struct {
	TaskUUID  string    `json:"task_uuid"`
	State     TaskState `json:"state"`
	Progress  float64   `json:"progress"`
	LastError string    `json:"last_error,omitempty"`
	Canceled  bool      `json:"canceled,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTaskStatus returns a status in the absent state
func NewTaskStatus(taskUUID string) *TaskStatus {
	now := time.Now()
	return &TaskStatus{
		TaskUUID:  taskUUID,
		State:     TaskStateAbsent,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the status to the next state
func (s *TaskStatus) TransitionTo(next TaskState) error {
	if !CanTransition(s.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, s.State, next)
	}
	if next == TaskStateDownloading {
		s.Progress = 0
		s.LastError = ""
		s.Canceled = false
		s.StartedAt = time.Now()
	}
	if next == TaskStateCached {
		s.Progress = 1
	}
	s.State = next
	s.UpdatedAt = time.Now()
	return nil
}

// MarkFailed returns the task to absent and records the error
func (s *TaskStatus) MarkFailed(err error, canceled bool) {
	s.State = TaskStateAbsent
	s.Canceled = canceled
	if err != nil {
		s.LastError = err.Error()
	}
	s.UpdatedAt = time.Now()
}

// UpdateProgress records fractional download progress, clamped to [0,1]
func (s *TaskStatus) UpdateProgress(progress float64) {
	s.Progress = ClampProgress(progress)
	s.UpdatedAt = time.Now()
}

// IsActive returns true while the task is downloading or materializing
func (s *TaskStatus) IsActive() bool {
	return s.State == TaskStateDownloading || s.State == TaskStateMaterializing
}

// ClampProgress limits p to [0,1]
func ClampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
