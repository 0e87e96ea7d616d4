package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis transport configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// OutboundKey is the list this peer pushes to (default: "drmcomm:outbound").
	OutboundKey string
	// InboundKey is the list this peer pops from (default: "drmcomm:inbound").
	InboundKey string
}

// Redis carries payloads over two Redis lists: RPUSH on the outbound list,
// BLPOP on the inbound list. A peer uses the same lists with the keys
// swapped.
type Redis struct {
	client   *redis.Client
	outbound string
	inbound  string
	mu       sync.RWMutex
	closed   bool
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
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

	return NewRedisFromClient(client, cfg.OutboundKey, cfg.InboundKey), nil
}

// NewRedisFromClient creates a transport from an existing client.
// This is useful for testing with miniredis.
func NewRedisFromClient(client *redis.Client, outboundKey, inboundKey string) *Redis {
	if outboundKey == "" {
		outboundKey = "drmcomm:outbound"
	}
	if inboundKey == "" {
		inboundKey = "drmcomm:inbound"
	}
	return &Redis{
		client:   client,
		outbound: outboundKey,
		inbound:  inboundKey,
	}
}

func (r *Redis) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Deliver appends payload to the outbound list.
func (r *Redis) Deliver(ctx context.Context, payload string) error {
	if r.isClosed() {
		return ErrClosed
	}
	if err := r.client.RPush(ctx, r.outbound, payload).Err(); err != nil {
		return fmt.Errorf("redis deliver: %w", err)
	}
	return nil
}

// Receive pops the next payload from the inbound list, waiting up to timeout.
func (r *Redis) Receive(ctx context.Context, timeout time.Duration) (string, error) {
	if r.isClosed() {
		return "", ErrClosed
	}

	res, err := r.client.BLPop(ctx, timeout, r.inbound).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoMessage
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("redis receive: %w", err)
	}
	// BLPOP replies with [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("redis receive: unexpected reply length %d", len(res))
	}
	return res[1], nil
}

// Pending returns the length of the inbound list.
func (r *Redis) Pending(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.inbound).Result()
}

// Close releases the Redis connection pool.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}
