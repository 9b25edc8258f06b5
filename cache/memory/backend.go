// Package memory implements the cache.Backend contract in process, with no
// external dependencies. It backs tests and deployments without a configured
// Redis address. Value keys expire through ttlcache; ordered indexes live in a
// plain map guarded by a mutex, mirroring Redis sorted-set semantics (ascending
// score, ties broken lexicographically by member).
package memory

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/appauth/sessionstore/cache"
)

// Backend is an in-memory cache.Backend.
type Backend struct {
	values *ttlcache.Cache[string, []byte]

	mu      sync.Mutex
	indexes map[string][]cache.ScoredMember
}

// New creates a memory backend with automatic expiry of value keys.
func New() *Backend {
	values := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go values.Start()

	return &Backend{
		values:  values,
		indexes: make(map[string][]cache.ScoredMember),
	}
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	item := b.values.Get(key)
	if item == nil {
		return nil, nil
	}
	return item.Value(), nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	b.values.Set(key, value, ttl)
	return nil
}

func (b *Backend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		b.values.Delete(key)
		delete(b.indexes, key)
	}
	return nil
}

func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	if b.values.Has(key) {
		return true, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.indexes[key]
	return ok, nil
}

// GetDel reads and removes under the same lock, so concurrent poppers
// serialize and at most one of them observes the value.
func (b *Backend) GetDel(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item := b.values.Get(key)
	if item == nil {
		return nil, nil
	}
	b.values.Delete(key)
	return item.Value(), nil
}

func (b *Backend) IndexAdd(_ context.Context, key, member string, score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.indexes[key]
	replaced := false
	for i := range members {
		if members[i].Member == member {
			members[i].Score = score
			replaced = true
			break
		}
	}
	if !replaced {
		members = append(members, cache.ScoredMember{Member: member, Score: score})
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	b.indexes[key] = members
	return nil
}

func (b *Backend) IndexRemove(_ context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.indexes[key]
	if !ok {
		return nil
	}
	drop := make(map[string]struct{}, len(members))
	for _, m := range members {
		drop[m] = struct{}{}
	}
	kept := current[:0]
	for _, sm := range current {
		if _, gone := drop[sm.Member]; !gone {
			kept = append(kept, sm)
		}
	}
	if len(kept) == 0 {
		delete(b.indexes, key)
	} else {
		b.indexes[key] = kept
	}
	return nil
}

func (b *Backend) IndexRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.indexes[key]
	n := int64(len(members))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	for _, sm := range members[start : stop+1] {
		out = append(out, sm.Member)
	}
	return out, nil
}

func (b *Backend) IndexMembers(_ context.Context, key string) ([]cache.ScoredMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.indexes[key]
	out := make([]cache.ScoredMember, len(members))
	copy(out, members)
	return out, nil
}

func (b *Backend) IndexCard(_ context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.indexes[key])), nil
}

// ScanKeys pages over a sorted snapshot of the matching keys; the cursor is
// the offset into that ordering. Matching uses glob patterns like Redis SCAN.
func (b *Backend) ScanKeys(_ context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error) {
	if count <= 0 {
		count = 10
	}

	matched := make([]string, 0)
	for _, key := range b.values.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	b.mu.Lock()
	for key := range b.indexes {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	b.mu.Unlock()
	sort.Strings(matched)

	start := int(cursor)
	if start >= len(matched) {
		return nil, 0, nil
	}
	end := start + int(count)
	var next uint64
	if end >= len(matched) {
		end = len(matched)
	} else {
		next = uint64(end)
	}
	return matched[start:end], next, nil
}

func (b *Backend) Ping(_ context.Context) error {
	return nil
}

// Close stops the expiry goroutine.
func (b *Backend) Close() error {
	b.values.Stop()
	return nil
}
