package vo

import (
	"errors"
	"strings"
)

// TaskUUID identifies one conversion task bundle.
// It is opaque: the only operations on it are URL building and substring
// matching against cache locations.
type TaskUUID struct {
	value string
}

var (
	ErrEmptyTaskUUID   = errors.New("task uuid cannot be empty")
	ErrInvalidTaskUUID = errors.New("invalid task uuid format")
)

// NewTaskUUID creates a new TaskUUID value object.
func NewTaskUUID(id string) (TaskUUID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return TaskUUID{}, ErrEmptyTaskUUID
	}
	// The id becomes a URL path segment.
	if strings.ContainsAny(id, "/?#\\") {
		return TaskUUID{}, ErrInvalidTaskUUID
	}
	return TaskUUID{value: id}, nil
}

// MustTaskUUID creates a new TaskUUID, panicking if invalid.
func MustTaskUUID(id string) TaskUUID {
	t, err := NewTaskUUID(id)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the string representation of the ID.
func (id TaskUUID) String() string {
	return id.value
}

// MatchesLocation reports whether a cache location belongs to this task.
func (id TaskUUID) MatchesLocation(location string) bool {
	return id.value != "" && strings.Contains(location, id.value)
}
