//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// memClient is an in-memory RedisClient.
type memClient struct {
	mu      sync.Mutex
	data    map[string]string
	counts  map[string]int64
	expires map[string]time.Duration
	GetErr  error
}

var _ RedisClient = (*memClient)(nil)

func newMemClient() *memClient {
	return &memClient{data: map[string]string{}, counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (m *memClient) Ping(ctx context.Context) error { return nil }
func (m *memClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case string:
		m.data[key] = v
	case []byte:
		m.data[key] = string(v)
	}
	m.expires[key] = expiration
	return nil
}
func (m *memClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetErr != nil {
		return "", m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}
func (m *memClient) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}
func (m *memClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = expiration
	return nil
}
func (m *memClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *memClient) Close() error { return nil }

func TestKVStore(t *testing.T) {
	ctx := context.Background()

	t.Run("miss is not an error", func(t *testing.T) {
		s := NewKVStore(newMemClient(), "ns")
		_, found, err := s.Get(ctx, "absent")
		if err != nil || found {
			t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
		}
	})

	t.Run("set then get uses the namespace", func(t *testing.T) {
		cli := newMemClient()
		s := NewKVStore(cli, "ns")
		if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
			t.Fatal(err)
		}
		if cli.data["ns:k"] != "v" || cli.expires["ns:k"] != time.Minute {
			t.Errorf("unexpected backing state %+v", cli.data)
		}
		v, found, err := s.Get(ctx, "k")
		if err != nil || !found || v != "v" {
			t.Fatalf("got %q %v %v", v, found, err)
		}
		if err := s.Evict(ctx, "k"); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := s.Get(ctx, "k"); found {
			t.Error("key should be evicted")
		}
	})

	t.Run("backend errors propagate", func(t *testing.T) {
		cli := newMemClient()
		cli.GetErr = errors.New("connection refused")
		_, _, err := NewKVStore(cli, "").Get(ctx, "k")
		if err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	cli := newMemClient()
	rl := NewRateLimiter(cli)
	key := UserActionKey("user-1", "initiate")

	for i := 1; i <= 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("call %d should be allowed (err=%v)", i, err)
		}
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	if err != nil || ok {
		t.Fatalf("fourth call should be limited (ok=%v err=%v)", ok, err)
	}
	if cli.expires[key] != time.Minute {
		t.Errorf("window expiry not set on first hit")
	}
}
