package session

import (
	"encoding/json"
	"time"
)

// Record is the stored form of a session. Field names and unix-second
// timestamps are interop-stable with records written by earlier deployments;
// do not rename them.
type Record struct {
	UserID    string          `json:"sub"`
	Payload   json.RawMessage `json:"claims,omitempty"`
	IssuedAt  int64           `json:"ts"`
	ExpiresAt int64           `json:"exp"`
	RenewedAt int64           `json:"renewed_at,omitempty"`
}

func (r Record) IssuedTime() time.Time { return time.Unix(r.IssuedAt, 0) }
func (r Record) ExpiryTime() time.Time { return time.Unix(r.ExpiresAt, 0) }
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt > 0 && r.ExpiryTime().Before(now)
}

// Summary is what ListSessions returns per live session.
type Summary struct {
	SessionID string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Expired   bool            `json:"expired"`
	Payload   json.RawMessage `json:"claims,omitempty"`
}
