package shared

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// SessionBackend persists encoded session payloads keyed by session ID.
type SessionBackend interface {
	Load(ctx context.Context, id string) ([]byte, bool, error)
	Save(ctx context.Context, id string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// RedisBackend stores sessions in Redis under "session:<id>".
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps a Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Load(ctx context.Context, id string) ([]byte, bool, error) {
	payload, err := b.client.Get(ctx, redisSessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, id string, payload []byte, ttl time.Duration) error {
	return b.client.Set(ctx, redisSessionKey(id), payload, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, redisSessionKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func redisSessionKey(id string) string {
	return "session:" + id
}

// MemoryBackend keeps sessions in process memory. Suitable for single-node
// development setups only.
type MemoryBackend struct {
	c *gocache.Cache
}

// NewMemoryBackend returns a MemoryBackend expiring entries after ttl.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{c: gocache.New(ttl, time.Minute)}
}

func (b *MemoryBackend) Load(_ context.Context, id string) ([]byte, bool, error) {
	v, ok := b.c.Get(id)
	if !ok {
		return nil, false, nil
	}
	payload, _ := v.([]byte)
	return payload, true, nil
}

func (b *MemoryBackend) Save(_ context.Context, id string, payload []byte, ttl time.Duration) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.c.Set(id, cp, ttl)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.c.Delete(id)
	return nil
}

var (
	_ SessionBackend = (*RedisBackend)(nil)
	_ SessionBackend = (*MemoryBackend)(nil)
)
