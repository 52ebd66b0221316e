package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLeaser keeps leases in process memory, suitable for tests and
// single-node deployments.
type MemoryLeaser struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryLeaser constructs an empty leaser.
func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{
		held:  make(map[string]memoryEntry),
		clock: time.Now,
	}
}

// Acquire grants a lease unless a live one exists for the asset. Expired
// entries are reclaimed in place.
func (l *MemoryLeaser) Acquire(ctx context.Context, assetID string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[assetID]; ok && entry.expiresAt.After(now) {
		return nil, ErrHeld
	}
	holder := uuid.NewString()
	l.held[assetID] = memoryEntry{holder: holder, expiresAt: now.Add(ttl)}
	return &memoryLease{leaser: l, assetID: assetID, holder: holder}, nil
}

func (l *MemoryLeaser) release(assetID, holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[assetID]; ok && entry.holder == holder {
		delete(l.held, assetID)
	}
}

type memoryLease struct {
	leaser  *MemoryLeaser
	assetID string
	holder  string
}

func (m *memoryLease) AssetID() string {
	return m.assetID
}

func (m *memoryLease) Holder() string {
	return m.holder
}

func (m *memoryLease) Release(ctx context.Context) error {
	m.leaser.release(m.assetID, m.holder)
	return nil
}
