package redis

import (
	"context"
	"errors"
	"time"

	"daraja-payments/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.KeyValueStore = (*KVStore)(nil)

// KVStore exposes a RedisClient as the shared cache port, with all keys
// under one namespace.
type KVStore struct {
	client    RedisClient
	namespace string
}

func NewKVStore(client RedisClient, namespace string) *KVStore {
	return &KVStore{client: client, namespace: namespace}
}

func (s *KVStore) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key))
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl)
}

func (s *KVStore) Evict(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key))
}
