// Package session owns the per-session record and the per-user index and
// keeps the two synchronized on every mutation. The index and record are two
// separate keys with no multi-key transaction tying them together; a crash
// between the writes leaves drift that the sweep engine repairs. Real-time
// cleanup here keeps that window small, it does not eliminate it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/appauth/sessionstore/cache"
)

// idRetries bounds collision retry during id generation. With 256-bit ids a
// single retry is already unreachable in practice.
const idRetries = 3

// StoreConfig tunes capacity and list behavior.
type StoreConfig struct {
	// MaxSessionsPerUser caps the index cardinality. Zero means unlimited.
	MaxSessionsPerUser int
	// ListLimit caps how many sessions ListSessions returns, newest first.
	ListLimit int
}

// DefaultListLimit matches the original deployment's page size.
const DefaultListLimit = 20

// Store implements the session lifecycle against a cache backend.
type Store struct {
	backend cache.Backend
	keys    cache.Keys
	policy  Policy
	cfg     StoreConfig

	now func() time.Time
}

// NewStore creates a session store. The policy and config are copied; the
// store holds no mutable state beyond the backend connection.
func NewStore(backend cache.Backend, keys cache.Keys, policy Policy, cfg StoreConfig) *Store {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	return &Store{
		backend: backend,
		keys:    keys,
		policy:  policy,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClock overrides the store's clock. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// CreateResult reports a created session. Evicted lists the session ids
// removed by capacity eviction: a new login can silently log out the user's
// oldest session, and callers are expected to surface that.
type CreateResult struct {
	SessionID string
	ExpiresAt time.Time
	Evicted   []string
}

// Create writes a new session record, links it into the owner's index and
// enforces the per-user capacity, oldest sessions first.
func (s *Store) Create(ctx context.Context, userID string, payload json.RawMessage) (*CreateResult, error) {
	userKey := UserKey(userID)
	if userKey == "" {
		return nil, fmt.Errorf("session: empty user id")
	}

	sid, err := s.generateID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := s.policy.ExpiryAt(now, now)
	rec := Record{
		UserID:    userID,
		Payload:   payload,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("session: marshal record: %w", err)
	}

	if err := s.backend.Set(ctx, s.keys.Session(sid), data, s.policy.TTL(expiresAt, now)); err != nil {
		return nil, err
	}

	// Fractional-second score keeps creation order even within one second.
	score := float64(now.UnixNano()) / float64(time.Second)
	if err := s.backend.IndexAdd(ctx, s.keys.Index(userKey), sid, score); err != nil {
		return nil, err
	}

	evicted, err := s.enforceCapacity(ctx, userKey)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Debug().
		Str("session_id", truncateID(sid)).
		Str("user", userKey).
		Time("expires_at", expiresAt).
		Int("evicted", len(evicted)).
		Msg("session created")

	return &CreateResult{SessionID: sid, ExpiresAt: expiresAt, Evicted: evicted}, nil
}

func (s *Store) generateID(ctx context.Context) (string, error) {
	for range idRetries {
		sid, err := NewID()
		if err != nil {
			return "", err
		}
		exists, err := s.backend.Exists(ctx, s.keys.Session(sid))
		if err != nil {
			return "", err
		}
		if !exists {
			return sid, nil
		}
	}
	return "", fmt.Errorf("session: id collision persisted after %d attempts", idRetries)
}

// enforceCapacity trims the index back to the configured maximum. The excess
// count is re-read immediately before trimming so concurrent creates shrink,
// not corrupt, each other's view. Records are deleted before their index
// entries: if we crash in between, the leftover entries are orphans the sweep
// removes.
func (s *Store) enforceCapacity(ctx context.Context, userKey string) ([]string, error) {
	if s.cfg.MaxSessionsPerUser <= 0 {
		return nil, nil
	}
	indexKey := s.keys.Index(userKey)

	card, err := s.backend.IndexCard(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	over := card - int64(s.cfg.MaxSessionsPerUser)
	if over <= 0 {
		return nil, nil
	}

	oldest, err := s.backend.IndexRange(ctx, indexKey, 0, over-1)
	if err != nil {
		return nil, err
	}
	if len(oldest) == 0 {
		return nil, nil
	}

	sessKeys := make([]string, len(oldest))
	for i, sid := range oldest {
		sessKeys[i] = s.keys.Session(sid)
	}
	if err := s.backend.Delete(ctx, sessKeys...); err != nil {
		return nil, err
	}
	if err := s.backend.IndexRemove(ctx, indexKey, oldest...); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("user", userKey).
		Int("evicted", len(oldest)).
		Int("max", s.cfg.MaxSessionsPerUser).
		Msg("session capacity eviction")

	return oldest, nil
}

// Fetch loads a session record. A missing or unparseable record yields
// (nil, nil); only backend failures return an error, so callers can tell
// "logged out" from "cannot verify session".
func (s *Store) Fetch(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.backend.Get(ctx, s.keys.Session(sessionID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Ctx(ctx).Warn().
			Str("session_id", truncateID(sessionID)).
			Err(err).
			Msg("discarding unparseable session record")
		return nil, nil
	}
	return &rec, nil
}

// Renew pushes the session expiry under the sliding policy and rewrites the
// record only when the policy says the new expiry is materially later. It
// returns the effective expiry and whether a write happened.
func (s *Store) Renew(ctx context.Context, sessionID string, rec *Record) (time.Time, bool, error) {
	now := s.now()
	newExpiry, ok := s.policy.Renew(rec.IssuedTime(), rec.ExpiryTime(), now)
	if !ok {
		return rec.ExpiryTime(), false, nil
	}

	rec.ExpiresAt = newExpiry.Unix()
	rec.RenewedAt = now.Unix()
	data, err := json.Marshal(rec)
	if err != nil {
		return rec.ExpiryTime(), false, fmt.Errorf("session: marshal record: %w", err)
	}
	if err := s.backend.Set(ctx, s.keys.Session(sessionID), data, s.policy.TTL(newExpiry, now)); err != nil {
		return rec.ExpiryTime(), false, err
	}

	log.Ctx(ctx).Debug().
		Str("session_id", truncateID(sessionID)).
		Time("expires_at", newExpiry).
		Msg("session renewed")

	return newExpiry, true, nil
}

// Delete removes the session record and its index entry as an idempotent
// pair. Either write may be observed first by a concurrent reader; a crash
// in between is repaired by the next sweep. Deleting an already-deleted
// session is a no-op.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	indexKey := s.keys.Index(UserKey(userID))

	if err := s.backend.IndexRemove(ctx, indexKey, sessionID); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, s.keys.Session(sessionID)); err != nil {
		return err
	}

	card, err := s.backend.IndexCard(ctx, indexKey)
	if err != nil {
		return err
	}
	if card == 0 {
		if err := s.backend.Delete(ctx, indexKey); err != nil {
			return err
		}
	}

	log.Ctx(ctx).Debug().
		Str("session_id", truncateID(sessionID)).
		Str("user", UserKey(userID)).
		Msg("session deleted")
	return nil
}

// ListSessions returns the user's live sessions, newest first, capped at the
// configured limit. It is the lazy-cleanup trigger: index entries whose
// record has vanished are removed from the index on the way through, and the
// index key itself is dropped once empty. On backend failure the list aborts
// without touching the index, so an outage never gets misread as staleness.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]Summary, error) {
	userKey := UserKey(userID)
	if userKey == "" {
		return nil, nil
	}
	indexKey := s.keys.Index(userKey)

	members, err := s.backend.IndexMembers(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	// Newest first; only the most recent ListLimit entries are returned,
	// but every entry gets the existence check so cleanup is complete.
	now := s.now()
	summaries := make([]Summary, 0, min(len(members), s.cfg.ListLimit))
	var stale []string
	for i := len(members) - 1; i >= 0; i-- {
		sm := members[i]
		rec, err := s.Fetch(ctx, sm.Member)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			stale = append(stale, sm.Member)
			continue
		}
		if len(summaries) >= s.cfg.ListLimit {
			continue
		}
		summaries = append(summaries, Summary{
			SessionID: sm.Member,
			CreatedAt: rec.IssuedTime(),
			ExpiresAt: rec.ExpiryTime(),
			Expired:   rec.Expired(now),
			Payload:   rec.Payload,
		})
	}

	if len(stale) > 0 {
		if err := s.backend.IndexRemove(ctx, indexKey, stale...); err != nil {
			return nil, err
		}
		card, err := s.backend.IndexCard(ctx, indexKey)
		if err != nil {
			return nil, err
		}
		if card == 0 {
			if err := s.backend.Delete(ctx, indexKey); err != nil {
				return nil, err
			}
		}
		log.Ctx(ctx).Debug().
			Str("user", userKey).
			Int("removed", len(stale)).
			Msg("lazy cleanup removed dangling index entries")
	}

	return summaries, nil
}

// truncateID shortens ids for logs; full tokens never land in log output.
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
