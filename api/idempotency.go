package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper records delivered webhook event ids in Redis so redeliveries
// are acknowledged without being processed twice, across all instances.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(scope, id string) string {
	return "webhook:" + scope + ":" + id
}

// Add records the id if it does not already exist. It returns true when the
// id was newly added.
func (r *RedisDeduper) Add(ctx context.Context, scope, id string) (bool, error) {
	return r.client.SetNX(ctx, r.key(scope, id), 1, r.ttl).Result()
}

// Remove forgets an id so a failed delivery can be retried by the sender.
func (r *RedisDeduper) Remove(ctx context.Context, scope, id string) error {
	return r.client.Del(ctx, r.key(scope, id)).Err()
}
