package cache

import "strings"

// Key kinds. The resulting layout is <prefix>:<kind>:<ident> and must stay
// bit-exact for interop with data written by earlier deployments.
const (
	KindSession = "sess"
	KindIndex   = "usess"
	KindState   = "state"
)

// Keys builds namespaced keys for one deployment prefix.
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

func (k Keys) key(kind, ident string) string {
	return k.prefix + ":" + kind + ":" + ident
}

// Session returns the key holding a serialized session record.
func (k Keys) Session(sessionID string) string { return k.key(KindSession, sessionID) }

// Index returns the key holding a user's session index.
func (k Keys) Index(userKey string) string { return k.key(KindIndex, userKey) }

// State returns the key holding a serialized handshake state entry.
func (k Keys) State(token string) string { return k.key(KindState, token) }

// IndexPattern matches every user index key under this prefix.
func (k Keys) IndexPattern() string { return k.key(KindIndex, "*") }

// SessionID recovers the session id from a session key.
func (k Keys) SessionID(key string) string {
	return strings.TrimPrefix(key, k.key(KindSession, ""))
}

// IndexUser recovers the user key from an index key.
func (k Keys) IndexUser(key string) string {
	return strings.TrimPrefix(key, k.key(KindIndex, ""))
}
