package drmserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis so several server processes can
// share registered keys and issued rights.
type RedisStore struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is the key prefix (default: "drmcomm:")
	Prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "drmcomm:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyKey(contentID string) string { return s.prefix + "key:" + contentID }
func (s *RedisStore) rightsKey(id string) string     { return s.prefix + "rights:" + id }
func (s *RedisStore) expiryKey() string              { return s.prefix + "rights-expiry" }

func (s *RedisStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("redis store is closed")
	}
	return nil
}

func (s *RedisStore) PutContentKey(ctx context.Context, contentID string, key []byte) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyKey(contentID), key, 0).Err(); err != nil {
		return fmt.Errorf("failed to store content key: %w", err)
	}
	return nil
}

func (s *RedisStore) HasContentKey(ctx context.Context, contentID string) (bool, error) {
	if err := s.checkClosed(); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.keyKey(contentID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up content key: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) PutRights(ctx context.Context, ro *RightsObject) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	data, err := json.Marshal(ro)
	if err != nil {
		return fmt.Errorf("failed to marshal rights object: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.rightsKey(ro.ID), data, 0)
	if !ro.NotAfter.IsZero() {
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{
			Score:  float64(ro.NotAfter.UnixMilli()),
			Member: ro.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store rights object: %w", err)
	}
	return nil
}

func (s *RedisStore) GetRights(ctx context.Context, id string) (*RightsObject, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.rightsKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rights object: %w", err)
	}

	var ro RightsObject
	if err := json.Unmarshal(data, &ro); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rights object: %w", err)
	}
	return &ro, nil
}

func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}

	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired rights: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = s.rightsKey(id)
		members[i] = id
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.expiryKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to purge expired rights: %w", err)
	}
	return len(ids), nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
