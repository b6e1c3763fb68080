package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient wraps go-redis with the JSON get/set contract the teacher's
// server/redis.go exposes: marshal on write, unmarshal on read, redis.Nil
// mapped to a sentinel miss error.
type RedisClient struct {
	client *redis.Client
}

// ErrNotFound is returned by GetJSON (and used internally by the hot
// cache's Get) when a key has no value in Redis.
var ErrNotFound = errors.New("cachestore: redis key not found")

// NewRedisClient dials addr and verifies connectivity with a bounded ping,
// same as the teacher's NewRedisClient.
func NewRedisClient(ctx context.Context, addr, password string) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	log.WithField("addr", addr).Info("redis client connected")
	return &RedisClient{client: rdb}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) get(ctx context.Context, key string, dest any) error {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

func (r *RedisClient) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *RedisClient) delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// SetJSON and GetJSON expose the get/set contract above for arbitrary
// JSON-able values outside the cache-entry domain — used by
// internal/workerpool (with the client cmd/worker hands it) and by
// cmd/admin to publish and read worker pool snapshots (spec.md §4.8 item
// 6) without a second network listener.
func (r *RedisClient) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.set(ctx, key, value, ttl)
}

func (r *RedisClient) GetJSON(ctx context.Context, key string, dest any) error {
	return r.get(ctx, key, dest)
}

// HotCache wraps a Store with a Redis read-through tier: Get checks Redis
// first and falls back to the backing store on miss, repopulating Redis;
// Put writes the backing store and then deletes the Redis key, and
// Invalidate deletes from both tiers. Redis read and delete errors are
// ignored and treated as misses/no-ops (only a failed repopulate is
// logged) so Firestore remains the source of truth, matching the Put
// contract in spec.md §4.2.
type HotCache struct {
	backing Store
	redis   *RedisClient
	ttl     time.Duration
}

// NewHotCache builds a HotCache. ttl bounds how long an entry may live in
// Redis before a fresh Firestore read is forced, independent of the
// entry's own expiresAt.
func NewHotCache(backing Store, redis *RedisClient, ttl time.Duration) *HotCache {
	return &HotCache{backing: backing, redis: redis, ttl: ttl}
}

func redisKey(fingerprint string) string {
	return "content_cache:" + fingerprint
}

func (h *HotCache) Get(ctx context.Context, fingerprint string) (Entry, error) {
	var entry Entry
	if err := h.redis.get(ctx, redisKey(fingerprint), &entry); err == nil {
		if entry.Expired(time.Now().UTC()) {
			_ = h.redis.delete(ctx, redisKey(fingerprint))
		} else {
			return entry, nil
		}
	}

	entry, err := h.backing.Get(ctx, fingerprint)
	if err != nil {
		return Entry{}, err
	}

	if setErr := h.redis.set(ctx, redisKey(fingerprint), entry, h.ttl); setErr != nil {
		log.WithError(setErr).Warn("failed to populate redis hot cache")
	}
	return entry, nil
}

func (h *HotCache) Put(ctx context.Context, fingerprint string, payload, metadata map[string]any, sourceURL, locale string, ttlHours int) error {
	if err := h.backing.Put(ctx, fingerprint, payload, metadata, sourceURL, locale, ttlHours); err != nil {
		return err
	}
	_ = h.redis.delete(ctx, redisKey(fingerprint))
	return nil
}

func (h *HotCache) Invalidate(ctx context.Context, fingerprint string) (bool, error) {
	_ = h.redis.delete(ctx, redisKey(fingerprint))
	return h.backing.Invalidate(ctx, fingerprint)
}

func (h *HotCache) Stats(ctx context.Context) (Stats, error) {
	return h.backing.Stats(ctx)
}

func (h *HotCache) ClearAll(ctx context.Context) (int, error) {
	return h.backing.ClearAll(ctx)
}
