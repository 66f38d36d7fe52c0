package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the campaign lock.
var ErrLocked = errors.New("campaign is locked by another run")

// LockKeyPrefix namespaces campaign locks in Redis.
const LockKeyPrefix = "outreach:lock:"

// releaseScript deletes the lock only if this run still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker enforces a single writer per campaign.
type Locker interface {
	Acquire(ctx context.Context, campaign, owner string) (release func(context.Context) error, err error)
}

// RedisLocker takes a SET NX lock with a TTL so a crashed run cannot block
// the campaign forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, campaign, owner string) (func(context.Context) error, error) {
	key := LockKeyPrefix + campaign
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w (held by run %s)", ErrLocked, holder)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
