package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// NewID generates a session id with 256 bits of entropy, URL-safe and
// unpadded so it survives cookies and key names unescaped.
func NewID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// UserKey normalizes a user identifier into the index key form. Identifiers
// are typically email addresses, so normalization is lower-case and trimmed.
func UserKey(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}
