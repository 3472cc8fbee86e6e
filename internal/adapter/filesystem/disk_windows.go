//go:build windows
// +build windows

package filesystem

import (
	"github.com/vertextoedge/convert-cache/internal/domain"
)

// diskTotal is not implemented on windows; the estimate reports usage only.
func diskTotal(dir string) (int64, error) {
	return 0, domain.ErrEstimateUnsupported
}
