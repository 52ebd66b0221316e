package lease

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "videoflix:lease:"

// RedisLeaser grants leases through SET NX PX, giving cross-process mutual
// exclusion with automatic expiry when a holder crashes.
type RedisLeaser struct {
	client *redis.Client
}

// NewRedisLeaser wraps an existing client; the caller owns its lifecycle.
func NewRedisLeaser(client *redis.Client) *RedisLeaser {
	return &RedisLeaser{client: client}
}

// Acquire attempts to claim the asset. A nil reply from SET NX means the
// key already exists, which maps to ErrHeld.
func (l *RedisLeaser) Acquire(ctx context.Context, assetID string, ttl time.Duration) (Lease, error) {
	if strings.TrimSpace(assetID) == "" {
		return nil, fmt.Errorf("asset id is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	holder := uuid.NewString()
	key := leaseKeyPrefix + assetID
	reply, err := l.client.Do(ctx, "SET", key, holder, "NX", "PX", strconv.FormatInt(ttl.Milliseconds(), 10)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if status, _ := reply.(string); status != "OK" {
		return nil, ErrHeld
	}
	return &redisLease{client: l.client, assetID: assetID, holder: holder, key: key}, nil
}

type redisLease struct {
	client  *redis.Client
	assetID string
	holder  string
	key     string
}

func (r *redisLease) AssetID() string {
	return r.assetID
}

func (r *redisLease) Holder() string {
	return r.holder
}

// releaseScript deletes the lease key only while it still carries this
// holder's token. Running the compare and the delete server-side keeps a
// release from removing a lease another worker acquired after expiry.
const releaseScript = `if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end`

// Release deletes the key only while this holder still owns it. Releasing
// an already expired or reacquired lease is a no-op.
func (r *redisLease) Release(ctx context.Context) error {
	_, err := r.client.Do(ctx, "EVAL", releaseScript, "1", r.key, r.holder).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
