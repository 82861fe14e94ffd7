package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lease is a single-holder Redis lock used to keep exactly one sweeper
// active per deployment. Losing the lease is safe: the reclaim update
// itself is conditional, the lease only prevents duplicate scans.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLease constructs a lease on the given key.
func NewLease(client *redis.Client, key string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lease{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryAcquire takes or refreshes the lease. Returns false when another
// holder owns it.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	script := redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]
local ttl = tonumber(ARGV[2])
local current = redis.call('GET', key)
if current == false then
  redis.call('SET', key, token, 'PX', ttl)
  return 1
end
if current == token then
  redis.call('PEXPIRE', key, ttl)
  return 1
end
return 0
`)
	res, err := script.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	return res == 1, nil
}

// Release drops the lease if this instance still holds it.
func (l *Lease) Release(ctx context.Context) error {
	script := redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]
if redis.call('GET', key) == token then
  return redis.call('DEL', key)
end
return 0
`)
	if _, err := script.Run(ctx, l.client, []string{l.key}, l.token).Int(); err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}
