package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appauth/sessionstore/cache/memory"
)

func newBackend(t *testing.T) *memory.Backend {
	t.Helper()
	b := memory.New()
	t.Cleanup(func() { b.Close() })
	return b
}

func TestGetAbsentReturnsNilNil(t *testing.T) {
	b := newBackend(t)

	val, err := b.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestSetGetDelete(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))

	val, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, b.Delete(ctx, "k"))
	val, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestTTLExpiry(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	val, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestGetDelPopsOnce(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))

	val, err := b.GetDel(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	val, err = b.GetDel(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestIndexOrdering(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.IndexAdd(ctx, "idx", "c", 3))
	require.NoError(t, b.IndexAdd(ctx, "idx", "a", 1))
	require.NoError(t, b.IndexAdd(ctx, "idx", "b", 2))

	members, err := b.IndexMembers(ctx, "idx")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "a", members[0].Member)
	assert.Equal(t, "b", members[1].Member)
	assert.Equal(t, "c", members[2].Member)

	oldest, err := b.IndexRange(ctx, "idx", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, oldest)

	all, err := b.IndexRange(ctx, "idx", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)
}

func TestIndexAddUpdatesScore(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.IndexAdd(ctx, "idx", "a", 1))
	require.NoError(t, b.IndexAdd(ctx, "idx", "b", 2))
	require.NoError(t, b.IndexAdd(ctx, "idx", "a", 3))

	card, err := b.IndexCard(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)

	members, err := b.IndexMembers(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, "b", members[0].Member)
	assert.Equal(t, "a", members[1].Member)
}

func TestIndexRemoveDropsEmptyKey(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.IndexAdd(ctx, "idx", "a", 1))
	require.NoError(t, b.IndexRemove(ctx, "idx", "a"))

	exists, err := b.Exists(ctx, "idx")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestScanKeysPaginates(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	for _, k := range []string{"p:usess:a", "p:usess:b", "p:usess:c", "p:sess:x"} {
		require.NoError(t, b.Set(ctx, k, []byte("v"), time.Minute))
	}

	got := make(map[string]bool)
	var cursor uint64
	for {
		page, next, err := b.ScanKeys(ctx, "p:usess:*", cursor, 2)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page), 2)
		for _, k := range page {
			got[k] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	assert.Equal(t, map[string]bool{"p:usess:a": true, "p:usess:b": true, "p:usess:c": true}, got)
}
