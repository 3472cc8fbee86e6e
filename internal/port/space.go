package port

import "context"

// StorageEstimate reports storage usage and quota in bytes
type StorageEstimate struct {
	UsageBytes int64
	QuotaBytes int64
}

// StorageEstimator is a best-effort storage usage query.
// Implementations return domain.ErrEstimateUnsupported when the platform
// cannot report usage.
type StorageEstimator interface {
	Estimate(ctx context.Context) (*StorageEstimate, error)
}
