// Package lease provides per-asset mutual exclusion for transcode workers.
// At most one live lease exists per asset; leases expire so a crashed
// holder's asset becomes schedulable again.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrHeld reports that another worker holds a live lease for the asset.
// It is not a failure: the caller requeues the job and tries again later.
var ErrHeld = errors.New("lease already held")

// Lease is an acquired exclusivity token.
type Lease interface {
	AssetID() string
	Holder() string
	Release(ctx context.Context) error
}

// Leaser hands out per-asset leases.
type Leaser interface {
	Acquire(ctx context.Context, assetID string, ttl time.Duration) (Lease, error)
}
