package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/port"
)

// volumeTotal is swapped out in tests
var volumeTotal = diskTotal

// Estimator reports storage usage of the directory holding the cache.
type Estimator struct {
	rootDir string
}

// Ensure Estimator implements port.StorageEstimator
var _ port.StorageEstimator = (*Estimator)(nil)

// NewEstimator creates a new Estimator, creating rootDir if needed
func NewEstimator(rootDir string) (*Estimator, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root dir: %w", err)
	}
	return &Estimator{rootDir: rootDir}, nil
}

// RootDir returns the cache root directory
func (e *Estimator) RootDir() string {
	return e.rootDir
}

// Estimate returns usage (bytes of files under the root) and quota (size of
// the underlying volume). Quota is 0 where the platform cannot report it.
func (e *Estimator) Estimate(ctx context.Context) (*port.StorageEstimate, error) {
	usage, err := e.usage(ctx)
	if err != nil {
		return nil, err
	}

	quota, err := volumeTotal(e.rootDir)
	if err != nil && !errors.Is(err, domain.ErrEstimateUnsupported) {
		return nil, err
	}

	return &port.StorageEstimate{
		UsageBytes: usage,
		QuotaBytes: quota,
	}, nil
}

// usage returns total size of files under root
func (e *Estimator) usage(ctx context.Context) (int64, error) {
	var size int64
	err := filepath.WalkDir(e.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files removed mid-walk (WAL checkpoints) are not an error.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}
