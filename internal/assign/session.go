package assign

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// SessionStore persists small key/value pairs scoped to one visitor session,
// the server-side stand-in for browser storage.
type SessionStore interface {
	Get(ctx context.Context, sessionID, key string) (string, bool, error)
	Set(ctx context.Context, sessionID, key, value string) error
}

// SessionKey is the storage key holding a session's assignment for a test.
func SessionKey(testID string) string {
	return "ab_test_" + testID
}

// MemorySessionStore keeps sessions in a bounded LRU. The least recently seen
// sessions are evicted first, which loses their stickiness.
type MemorySessionStore struct {
	// mu serializes the read-copy-write in Set.
	mu    sync.Mutex
	cache *lru.Cache[string, map[string]string]
}

const DefaultMemorySessions = 100_000

func NewMemorySessionStore(size int) (*MemorySessionStore, error) {
	if size <= 0 {
		size = DefaultMemorySessions
	}
	cache, err := lru.New[string, map[string]string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &MemorySessionStore{cache: cache}, nil
}

func (m *MemorySessionStore) Get(_ context.Context, sessionID, key string) (string, bool, error) {
	values, ok := m.cache.Get(sessionID)
	if !ok {
		return "", false, nil
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set copies the session map on write so concurrent readers never see a map
// being mutated. Writers to the same session are serialized so none of their
// keys are lost.
func (m *MemorySessionStore) Set(_ context.Context, sessionID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, _ := m.cache.Get(sessionID)
	next := make(map[string]string, len(values)+1)
	for k, v := range values {
		next[k] = v
	}
	next[key] = value
	m.cache.Add(sessionID, next)
	return nil
}

// RedisSessionStore keeps each session as a Redis hash that expires after ttl
// of inactivity.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisSessionStore{client: client, prefix: "agt:session:", ttl: ttl}
}

func (r *RedisSessionStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.prefix+sessionID, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return v, true, nil
}

func (r *RedisSessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	k := r.prefix + sessionID
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, k, key, value)
	pipe.Expire(ctx, k, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session %s: %w", sessionID, err)
	}
	return nil
}
