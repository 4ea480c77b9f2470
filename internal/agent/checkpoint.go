package agent

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	checkpointPrefix = "pihome:checkpoint:"
	cachePrefix      = "pihome:cache:"
)

// Checkpointer persists thread state between invocations.
type Checkpointer interface {
	Load(ctx context.Context, threadID string) (State, bool, error)
	Save(ctx context.Context, threadID string, state State) error
	Delete(ctx context.Context, threadID string) error
}

// MemorySaver keeps checkpoints in process memory.
type MemorySaver struct {
	mu      sync.RWMutex
	threads map[string]State
}

func NewMemorySaver() *MemorySaver {
	return &MemorySaver{threads: make(map[string]State)}
}

func (m *MemorySaver) Load(_ context.Context, threadID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.threads[threadID]
	if !ok {
		return State{}, false, nil
	}
	return state.Clone(), true, nil
}

func (m *MemorySaver) Save(_ context.Context, threadID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = state.Clone()
	return nil
}

func (m *MemorySaver) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// RedisSaver stores checkpoints as JSON under pihome:checkpoint:{thread}. A zero ttl never expires.
type RedisSaver struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSaver(client *redis.Client, ttl time.Duration) *RedisSaver {
	return &RedisSaver{client: client, ttl: ttl}
}

func (r *RedisSaver) Load(ctx context.Context, threadID string) (State, bool, error) {
	data, err := r.client.Get(ctx, checkpointPrefix+threadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("failed to decode checkpoint %s: %w", threadID, err)
	}
	return state, true, nil
}

func (r *RedisSaver) Save(ctx context.Context, threadID string, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, checkpointPrefix+threadID, data, r.ttl).Err()
}

func (r *RedisSaver) Delete(ctx context.Context, threadID string) error {
	return r.client.Del(ctx, checkpointPrefix+threadID).Err()
}

// ResponseCache remembers replies to identical requests.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// CacheKey is the md5 hex digest of "input-familyID-model".
func CacheKey(input, familyID, model string) string {
	sum := md5.Sum([]byte(input + "-" + familyID + "-" + model))
	return hex.EncodeToString(sum[:])
}

// RedisCache is a [ResponseCache] with entries under pihome:cache:{key}.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, cachePrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	return c.client.Set(ctx, cachePrefix+key, value, c.ttl).Err()
}

// MemoryCache is a process-local [ResponseCache]. Expired entries are dropped on read.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	value   string
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expires.IsZero() && c.now().After(entry.expires) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cacheEntry{value: value}
	if c.ttl > 0 {
		entry.expires = c.now().Add(c.ttl)
	}
	c.entries[key] = entry
	return nil
}

// ConnectRedis parses a redis:// URL and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
