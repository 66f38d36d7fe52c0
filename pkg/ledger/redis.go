package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces ledger sets.
const RedisKeyPrefix = "outreach:ledger:"

// RedisLog keeps the processed keys of one campaign in a redis set.
// It lets operators resume a campaign from another machine.
type RedisLog struct {
	redis *redis.Client
	key   string
}

// NewRedisLog creates a redis-backed log scoped to campaign.
func NewRedisLog(redisClient *redis.Client, campaign string) (*RedisLog, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(campaign) == "" {
		return nil, fmt.Errorf("campaign name is required")
	}
	return &RedisLog{
		redis: redisClient,
		key:   RedisKeyPrefix + campaign,
	}, nil
}

// Key returns the redis key of the set.
func (l *RedisLog) Key() string {
	return l.key
}

// Load returns all members of the set. A missing key is an empty set.
func (l *RedisLog) Load(ctx context.Context) (Set, error) {
	members, err := l.redis.SMembers(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	set := make(Set, len(members))
	for _, m := range members {
		set.Add(candidate.NormalizeKey(m))
	}
	return set, nil
}

// Record adds key to the set. Redis acknowledges the write before SADD returns.
func (l *RedisLog) Record(ctx context.Context, key candidate.Key) error {
	if strings.TrimSpace(key.String()) == "" {
		return ErrEmptyKey
	}
	if err := l.redis.SAdd(ctx, l.key, candidate.NormalizeKey(key.String()).String()).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Close is a no-op; the redis client is owned by the caller.
func (l *RedisLog) Close() error {
	return nil
}
