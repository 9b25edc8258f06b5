package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached or a call
// timed out. Callers may retry the whole operation; all mutations are
// idempotent at the key level.
var ErrUnavailable = errors.New("cache backend unavailable")

// ScoredMember is one entry of an ordered index, scored by creation time
// (unix seconds). Members sort ascending by score, oldest first.
type ScoredMember struct {
	Member string
	Score  float64
}

// Backend is the capability interface over the key-value store. The Redis
// implementation talks to a remote server; the memory implementation backs
// tests and prefix-less single-process deployments. Both honor the same
// contract:
//
//   - Get returns (nil, nil) when the key is absent. Absence is a result,
//     not an error.
//   - GetDel atomically reads and removes a key; a second call for the same
//     key observes absence even under concurrent callers.
//   - Index* operations maintain an ordered collection scored by creation
//     time, used for the per-user session index.
//   - ScanKeys is cursor-paginated and never blocks the store on large key
//     spaces; a zero returned cursor terminates the iteration.
//
// Every transport failure surfaces as an error wrapping ErrUnavailable.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetDel(ctx context.Context, key string) ([]byte, error)

	IndexAdd(ctx context.Context, key, member string, score float64) error
	IndexRemove(ctx context.Context, key string, members ...string) error
	IndexRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	IndexMembers(ctx context.Context, key string) ([]ScoredMember, error)
	IndexCard(ctx context.Context, key string) (int64, error)

	ScanKeys(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error)

	Ping(ctx context.Context) error
}
