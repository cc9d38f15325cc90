package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimMarker is stored while the first request holding a key is running.
const claimMarker = "-"

// RedisDeduper stores Idempotency-Key claims in Redis so every taskboard
// instance answers a retried add with the same task id: the placeholder while
// the create runs, the stored id once it returned.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

func (r *RedisDeduper) Claim(ctx context.Context, userID, key string) (string, bool, error) {
	added, err := r.client.SetNX(ctx, r.key(userID, key), claimMarker, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if added {
		return "", true, nil
	}
	prior, err := r.client.Get(ctx, r.key(userID, key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between SETNX and GET; try once more
		added, err = r.client.SetNX(ctx, r.key(userID, key), claimMarker, r.ttl).Result()
		return "", added, err
	case err != nil:
		return "", false, err
	case prior == claimMarker:
		return "", false, nil
	}
	return prior, false, nil
}

func (r *RedisDeduper) Commit(ctx context.Context, userID, key, value string) error {
	return r.client.Set(ctx, r.key(userID, key), value, r.ttl).Err()
}

// Release deletes a claim. It is used when the add fails so the caller may
// retry the command.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
