// redis.go implements the Redis persistence adapter.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "trellis:session:"
	redisStateTTL  = 24 * time.Hour
)

// RedisAdapter persists serialized session state in Redis with a TTL.
type RedisAdapter struct {
	client *redis.Client
}

// NewRedisAdapter connects to the Redis instance described by url
// (redis://host:port/db) and verifies the connection with a ping.
func NewRedisAdapter(ctx context.Context, url string) (*RedisAdapter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisAdapter{client: client}, nil
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Save stores the serialized state under the session key.
func (a *RedisAdapter) Save(id string, state []byte) error {
	ctx := context.Background()
	if err := a.client.Set(ctx, redisKey(id), state, redisStateTTL).Err(); err != nil {
		return fmt.Errorf("set session state: %w", err)
	}
	return nil
}

// Load returns the stored state for id, or (nil, nil) if absent.
func (a *RedisAdapter) Load(id string) ([]byte, error) {
	ctx := context.Background()
	state, err := a.client.Get(ctx, redisKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session state: %w", err)
	}
	return state, nil
}

// List scans for all stored session ids.
func (a *RedisAdapter) List() ([]string, error) {
	ctx := context.Background()
	var ids []string
	iter := a.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(redisKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan session keys: %w", err)
	}
	return ids, nil
}

// Delete removes the stored state for id, reporting whether a key existed.
func (a *RedisAdapter) Delete(id string) (bool, error) {
	ctx := context.Background()
	removed, err := a.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("delete session state: %w", err)
	}
	return removed > 0, nil
}

// Close closes the client connection.
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
