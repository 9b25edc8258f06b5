// Package redis implements the cache.Backend contract against a Redis server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appauth/sessionstore/cache"
)

// Default connection timeouts. Every command inherits the read/write timeout,
// so no backend call blocks past it.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Backend implements cache.Backend using go-redis.
type Backend struct {
	client redis.UniversalClient
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	b := &Backend{client: client}
	if err := b.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

// NewWithClient wraps a pre-configured client. Useful for testing with
// miniredis.
func NewWithClient(client redis.UniversalClient) *Backend {
	return &Backend{client: client}
}

// wrap maps transport failures onto cache.ErrUnavailable. redis.Nil never
// reaches it; absence is handled at the call sites.
func wrap(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, cache.ErrUnavailable, err)
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return val, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrap("set", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return wrap("del", err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists", err)
	}
	return n > 0, nil
}

// GetDel reads and removes a key in one round trip. GETDEL is atomic on the
// server (Redis >= 6.2), which is what gives handshake state its pop-once
// guarantee.
func (b *Backend) GetDel(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("getdel", err)
	}
	return val, nil
}

func (b *Backend) IndexAdd(ctx context.Context, key, member string, score float64) error {
	if err := b.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return wrap("zadd", err)
	}
	return nil
}

func (b *Backend) IndexRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := b.client.ZRem(ctx, key, args...).Err(); err != nil {
		return wrap("zrem", err)
	}
	return nil
}

func (b *Backend) IndexRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := b.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap("zrange", err)
	}
	return members, nil
}

func (b *Backend) IndexMembers(ctx context.Context, key string) ([]cache.ScoredMember, error) {
	zs, err := b.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrap("zrange", err)
	}
	members := make([]cache.ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, cache.ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

func (b *Backend) IndexCard(ctx context.Context, key string) (int64, error) {
	n, err := b.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("zcard", err)
	}
	return n, nil
}

// ScanKeys iterates the key space one SCAN page at a time. Callers pass the
// returned cursor back in; iteration ends when it comes back zero.
func (b *Backend) ScanKeys(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error) {
	keys, next, err := b.client.Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return nil, 0, wrap("scan", err)
	}
	return keys, next, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error {
	return b.client.Close()
}
