package vo

import (
	"errors"

	"github.com/dustin/go-humanize"
)

// FileSize represents a byte size value object.
type FileSize struct {
	bytes int64
}

const (
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB
)

var (
	ErrNegativeSize = errors.New("file size cannot be negative")
)

// NewFileSize creates a new FileSize value object.
func NewFileSize(bytes int64) (FileSize, error) {
	if bytes < 0 {
		return FileSize{}, ErrNegativeSize
	}
	return FileSize{bytes: bytes}, nil
}

// ZeroSize returns a zero FileSize.
func ZeroSize() FileSize {
	return FileSize{bytes: 0}
}

// FileSizeFromMB creates a FileSize from megabytes.
func FileSizeFromMB(mb float64) FileSize {
	return FileSize{bytes: int64(mb * float64(MB))}
}

// Bytes returns the size in bytes.
func (fs FileSize) Bytes() int64 {
	return fs.bytes
}

// MB returns the size in megabytes (MiB).
func (fs FileSize) MB() float64 {
	return float64(fs.bytes) / float64(MB)
}

// IsZero returns true if the size is zero.
func (fs FileSize) IsZero() bool {
	return fs.bytes == 0
}

// Add returns a new FileSize with the given size added.
func (fs FileSize) Add(other FileSize) FileSize {
	return FileSize{bytes: fs.bytes + other.bytes}
}

// String returns a human-readable string representation.
func (fs FileSize) String() string {
	return humanize.IBytes(uint64(fs.bytes))
}
