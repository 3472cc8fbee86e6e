package vo

import (
	"errors"
	"strings"
)

// EntryName is a validated archive entry name, slash separated.
type EntryName struct {
	value string
}

var (
	ErrEmptyEntryName  = errors.New("entry name cannot be empty")
	ErrUnsafeEntryName = errors.New("entry name escapes the bundle")
)

// NewEntryName validates an archive entry name. Names are used as URL paths,
// so backslashes are normalized and any ".." segment or absolute path is
// rejected.
func NewEntryName(name string) (EntryName, error) {
	if name == "" {
		return EntryName{}, ErrEmptyEntryName
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return EntryName{}, ErrUnsafeEntryName
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return EntryName{}, ErrUnsafeEntryName
		}
	}
	return EntryName{value: name}, nil
}

// String returns the entry name
func (n EntryName) String() string {
	return n.value
}

// IsIndex reports whether this is the bundle's top level index.html
func (n EntryName) IsIndex() bool {
	return n.value == "index.html"
}
