package sweep_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appauth/sessionstore/cache"
	"github.com/appauth/sessionstore/cache/memory"
	"github.com/appauth/sessionstore/session"
	"github.com/appauth/sessionstore/sweep"
)

type sweepFixture struct {
	backend *memory.Backend
	keys    cache.Keys
	store   *session.Store
	sweeper *sweep.Sweeper
	now     time.Time
}

func newSweepFixture(t *testing.T, cfg sweep.Config) *sweepFixture {
	t.Helper()

	backend := memory.New()
	t.Cleanup(func() { backend.Close() })

	f := &sweepFixture{
		backend: backend,
		keys:    cache.NewKeys("appauth"),
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	policy := session.Policy{SlidingEnabled: true, SlidingWindow: time.Hour, MinTTL: time.Minute}
	f.store = session.NewStore(backend, f.keys, policy, session.StoreConfig{}).
		WithClock(func() time.Time { return f.now })
	f.sweeper = sweep.New(backend, f.keys, cfg).
		WithClock(func() time.Time { return f.now })
	return f
}

// seed creates live sessions for the user and then knocks out the records of
// the last `orphans` of them, leaving dangling index entries behind.
func (f *sweepFixture) seed(t *testing.T, user string, live, orphans int) (liveIDs, orphanIDs []string) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < live+orphans; i++ {
		res, err := f.store.Create(ctx, user, nil)
		require.NoError(t, err)
		f.now = f.now.Add(time.Second)
		if i < live {
			liveIDs = append(liveIDs, res.SessionID)
		} else {
			orphanIDs = append(orphanIDs, res.SessionID)
			require.NoError(t, f.backend.Delete(ctx, f.keys.Session(res.SessionID)))
		}
	}
	return liveIDs, orphanIDs
}

func TestReportModeCountsWithoutMutating(t *testing.T) {
	f := newSweepFixture(t, sweep.Config{})
	f.seed(t, "user@example.com", 3, 2)
	ctx := context.Background()

	first, err := f.sweeper.Run(ctx, sweep.ModeReport)
	require.NoError(t, err)
	assert.Equal(t, 1, first.IndicesScanned)
	assert.Equal(t, 5, first.RefsChecked)
	assert.Equal(t, 3, first.LiveFound)
	assert.Equal(t, 2, first.OrphansFound)
	assert.Zero(t, first.OrphansRemoved)
	assert.Zero(t, first.EmptyIndicesRemoved)

	// Running it again produces identical counts: nothing was touched.
	second, err := f.sweeper.Run(ctx, sweep.ModeReport)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	card, err := f.backend.IndexCard(ctx, f.keys.Index("user@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), card)
}

func TestOrphanRepair(t *testing.T) {
	f := newSweepFixture(t, sweep.Config{})
	liveIDs, _ := f.seed(t, "user@example.com", 3, 2)
	ctx := context.Background()

	report, err := f.sweeper.Run(ctx, sweep.ModeRepairOrphans)
	require.NoError(t, err)
	assert.Equal(t, 2, report.OrphansFound)
	assert.Equal(t, 2, report.OrphansRemoved)

	members, err := f.backend.IndexMembers(ctx, f.keys.Index("user@example.com"))
	require.NoError(t, err)
	require.Len(t, members, 3)
	remaining := make([]string, len(members))
	for i, m := range members {
		remaining[i] = m.Member
	}
	assert.ElementsMatch(t, liveIDs, remaining)
}

func TestOrphanRepairIsIdempotent(t *testing.T) {
	f := newSweepFixture(t, sweep.Config{})
	f.seed(t, "user@example.com", 3, 2)
	ctx := context.Background()

	_, err := f.sweeper.Run(ctx, sweep.ModeRepairOrphans)
	require.NoError(t, err)

	second, err := f.sweeper.Run(ctx, sweep.ModeRepairOrphans)
	require.NoError(t, err)
	assert.Zero(t, second.OrphansFound)
	assert.Zero(t, second.OrphansRemoved)
	assert.Equal(t, 3, second.LiveFound)
}

func TestRepairRemovesEmptiedIndex(t *testing.T) {
	f := newSweepFixture(t, sweep.Config{})
	f.seed(t, "user@example.com", 0, 2)
	ctx := context.Background()

	report, err := f.sweeper.Run(ctx, sweep.ModeRepairOrphans)
	require.NoError(t, err)
	assert.Equal(t, 2, report.OrphansRemoved)
	assert.Equal(t, 1, report.EmptyIndicesRemoved)

	exists, err := f.backend.Exists(ctx, f.keys.Index("user@example.com"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRepairAllReapsOldSessions(t *testing.T) {
	f := newSweepFixture(t, sweep.Config{MaxAge: 30 * 24 * time.Hour})
	ctx := context.Background()

	fresh, err := f.store.Create(ctx, "user@example.com", nil)
	require.NoError(t, err)

	// Plant a record issued 40 days ago alongside its index entry, the way
	// a long-lived deployment would have left it.
	oldID := "old-session-id"
	issued := f.now.Add(-40 * 24 * time.Hour)
	rec := session.Record{
		UserID:    "user@example.com",
		IssuedAt:  issued.Unix(),
		ExpiresAt: f.now.Add(time.Hour).Unix(),
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, f.backend.Set(ctx, f.keys.Session(oldID), data, time.Hour))
	require.NoError(t, f.backend.IndexAdd(ctx, f.keys.Index("user@example.com"), oldID,
		float64(issued.UnixNano())/float64(time.Second)))

	report, err := f.sweeper.Run(ctx, sweep.ModeRepairAll)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExpiredRemoved)
	assert.Zero(t, report.OrphansFound)

	gone, err := f.backend.Exists(ctx, f.keys.Session(oldID))
	require.NoError(t, err)
	assert.False(t, gone)

	// The fresh session survives, record and index entry both.
	stillThere, err := f.backend.Exists(ctx, f.keys.Session(fresh.SessionID))
	require.NoError(t, err)
	assert.True(t, stillThere)

	members, err := f.backend.IndexMembers(ctx, f.keys.Index("user@example.com"))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, fresh.SessionID, members[0].Member)
}

func TestOrphanRepairLeavesOldSessionsAlone(t *testing.T) {
	// Without ModeRepairAll an old-but-live session must not be touched.
	f := newSweepFixture(t, sweep.Config{MaxAge: 30 * 24 * time.Hour})
	ctx := context.Background()

	oldID := "old-session-id"
	issued := f.now.Add(-40 * 24 * time.Hour)
	rec := session.Record{UserID: "user@example.com", IssuedAt: issued.Unix()}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, f.backend.Set(ctx, f.keys.Session(oldID), data, time.Hour))
	require.NoError(t, f.backend.IndexAdd(ctx, f.keys.Index("user@example.com"), oldID,
		float64(issued.UnixNano())/float64(time.Second)))

	report, err := f.sweeper.Run(ctx, sweep.ModeRepairOrphans)
	require.NoError(t, err)
	assert.Zero(t, report.ExpiredRemoved)
	assert.Equal(t, 1, report.LiveFound)

	exists, err := f.backend.Exists(ctx, f.keys.Session(oldID))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSweepAcrossMultipleIndexPages(t *testing.T) {
	// Page size 2 against 5 indices forces cursor continuation.
	f := newSweepFixture(t, sweep.Config{ScanCount: 2})
	ctx := context.Background()

	users := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}
	for _, u := range users {
		f.seed(t, u, 1, 1)
	}

	report, err := f.sweeper.Run(ctx, sweep.ModeRepairOrphans)
	require.NoError(t, err)
	assert.Equal(t, len(users), report.IndicesScanned)
	assert.Equal(t, len(users), report.OrphansRemoved)
	assert.Equal(t, len(users), report.LiveFound)
}
