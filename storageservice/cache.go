package storageservice

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/aleph-im/go-ccn/log"
)

// Cache is the node-wide content cache the storage service checks before
// falling back to IPFS, mirroring original_source's NodeCache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// RedisCache implements Cache over go-redis/v8, the context-aware client
// version teacher's own common/redis/pubsub_test.go already assumes.
type RedisCache struct {
	client *redis.Client
	log    log.Logger
}

// NewRedisCache connects to addr ("host:port").
func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisCache{client: client, log: log.New("component", "storageservice-cache")}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("cache get failed", "key", key, "err", err)
		}
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Debug("cache set failed", "key", key, "err", err)
	}
}

// Subscribe mirrors the teacher's pubsub test surface
// (Subscribe(ctx, channel).Receive(ctx) then range over .Channel()); it
// returns once the subscription is confirmed. Nothing in this module calls it.
func (c *RedisCache) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	pubSub := c.client.Subscribe(ctx, channel)
	if _, err := pubSub.Receive(ctx); err != nil {
		return nil, err
	}
	return pubSub, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error { return c.client.Close() }
