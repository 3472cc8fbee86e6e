//go:build !windows
// +build !windows

package filesystem

import (
	"fmt"
	"syscall"
)

// diskTotal returns the size of the volume holding dir
func diskTotal(dir string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to get disk stats: %w", err)
	}
	return int64(stat.Blocks) * int64(stat.Bsize), nil
}
