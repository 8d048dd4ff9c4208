package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements RemoteStore on top of a Redis client. The caller
// owns the client lifecycle. An optional prefix namespaces every key so
// multiple engines can share one database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ RemoteStore = (*RedisStore)(nil)

// NewRedisStore returns a RemoteStore backed by Redis.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) prefixKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *RedisStore) stripPrefix(key string) string {
	if s.prefix == "" {
		return key
	}
	return key[len(s.prefix)+1:]
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefixKey(key), data, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefixKey(key)
	}
	n, err := s.client.Del(ctx, prefixed...).Result()
	return int(n), err
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefixKey(pattern), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, s.stripPrefix(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// FlushDB removes every key owned by this store. With a prefix configured
// only prefixed keys are removed, so other tenants of the database are
// untouched.
func (s *RedisStore) FlushDB(ctx context.Context) error {
	if s.prefix == "" {
		return s.client.FlushDB(ctx).Err()
	}
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
