// Package state stores short-lived, single-use OAuth handshake state. Entries
// are written once at the start of a flow and consumed at most once: Pop
// atomically reads and deletes, so two racing callbacks cannot both succeed.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/appauth/sessionstore/cache"
)

// DefaultTTL bounds how long a handshake may take.
const DefaultTTL = 10 * time.Minute

// ErrNotFound covers every way a token can be invalid: expired, already
// consumed, or never issued. The backend cannot tell these apart, and callers
// must treat all of them as an authentication failure without retrying.
var ErrNotFound = errors.New("state not found, expired, or already used")

// Entry is one pending handshake. The verifier lives inside the entry so a
// single atomic pop returns everything the callback needs.
type Entry struct {
	RedirectURI string `json:"redirect_uri"`
	Verifier    string `json:"code_verifier,omitempty"`
	Provider    string `json:"provider"`
	CreatedAt   int64  `json:"ts"`
	ExpiresAt   int64  `json:"exp"`
}

// Store is the ephemeral state store.
type Store struct {
	backend cache.Backend
	keys    cache.Keys
	ttl     time.Duration

	now func() time.Time
}

// NewStore creates a state store with a fixed TTL (DefaultTTL when zero).
func NewStore(backend cache.Backend, keys cache.Keys, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backend: backend,
		keys:    keys,
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides the store's clock. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Save writes the handshake state under the fixed TTL.
func (s *Store) Save(ctx context.Context, token, redirectURI, verifier, provider string) error {
	now := s.now()
	entry := Entry{
		RedirectURI: redirectURI,
		Verifier:    verifier,
		Provider:    provider,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(s.ttl).Unix(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("state: marshal entry: %w", err)
	}
	if err := s.backend.Set(ctx, s.keys.State(token), data, s.ttl); err != nil {
		return err
	}

	log.Ctx(ctx).Debug().
		Str("state", truncateToken(token)).
		Str("provider", provider).
		Msg("handshake state saved")
	return nil
}

// Pop atomically consumes the state. A second Pop for the same token returns
// ErrNotFound no matter how the calls interleave. Backend failures surface as
// cache.ErrUnavailable, distinct from an invalid token.
func (s *Store) Pop(ctx context.Context, token string) (*Entry, error) {
	data, err := s.backend.GetDel(ctx, s.keys.State(token))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Ctx(ctx).Warn().
			Str("state", truncateToken(token)).
			Err(err).
			Msg("discarding unparseable handshake state")
		return nil, ErrNotFound
	}

	log.Ctx(ctx).Debug().
		Str("state", truncateToken(token)).
		Str("provider", entry.Provider).
		Msg("handshake state consumed")
	return &entry, nil
}

func truncateToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
