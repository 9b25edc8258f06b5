package session

import "time"

// Policy defaults, matching what existing deployments assume.
const (
	DefaultTTL    = time.Hour
	DefaultMinTTL = time.Minute
)

// Policy computes session expiry under sliding and absolute lifetime rules.
// It is a pure value; every decision takes the clock as an argument.
type Policy struct {
	// SlidingEnabled turns on renewal. When off, sessions live for
	// DefaultWindow from creation and Renew never extends them.
	SlidingEnabled bool
	// SlidingWindow is how far an access pushes the expiry into the future.
	SlidingWindow time.Duration
	// AbsoluteLifetime caps the expiry at issued-at plus this duration.
	// Zero means no cap.
	AbsoluteLifetime time.Duration
	// MinTTL floors the cache-native TTL so a record is never written with
	// an effectively-zero lifetime.
	MinTTL time.Duration
	// DefaultWindow is the session lifetime when sliding is disabled.
	DefaultWindow time.Duration
}

func (p Policy) window() time.Duration {
	if p.SlidingEnabled && p.SlidingWindow > 0 {
		return p.SlidingWindow
	}
	if p.DefaultWindow > 0 {
		return p.DefaultWindow
	}
	return DefaultTTL
}

func (p Policy) minTTL() time.Duration {
	if p.MinTTL > 0 {
		return p.MinTTL
	}
	return DefaultMinTTL
}

// absoluteDeadline returns the latest moment a session issued at issuedAt may
// live to, or the zero time when no absolute cap is configured.
func (p Policy) absoluteDeadline(issuedAt time.Time) time.Time {
	if p.AbsoluteLifetime <= 0 {
		return time.Time{}
	}
	return issuedAt.Add(p.AbsoluteLifetime)
}

// ExpiryAt computes the expiry for a session issued at issuedAt observed at
// now: min(issuedAt + absolute lifetime, now + window).
func (p Policy) ExpiryAt(issuedAt, now time.Time) time.Time {
	exp := now.Add(p.window())
	if deadline := p.absoluteDeadline(issuedAt); !deadline.IsZero() && exp.After(deadline) {
		exp = deadline
	}
	return exp
}

// TTL converts an expiry into a cache-native TTL, floored at the minimum.
func (p Policy) TTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if min := p.minTTL(); ttl < min {
		ttl = min
	}
	return ttl
}

// Renew decides whether an access at now should push the expiry. It reports
// the new expiry and whether a write is warranted. Writes are suppressed
// while more than half the sliding window remains, so a hot session does not
// rewrite its record on every request. The result never exceeds the absolute
// deadline, and an already-expired session is never revived.
func (p Policy) Renew(issuedAt, currentExpiry, now time.Time) (time.Time, bool) {
	if !p.SlidingEnabled {
		return currentExpiry, false
	}
	if !currentExpiry.After(now) {
		return currentExpiry, false
	}
	if currentExpiry.Sub(now) > p.window()/2 {
		return currentExpiry, false
	}

	candidate := now.Add(p.window())
	if deadline := p.absoluteDeadline(issuedAt); !deadline.IsZero() && candidate.After(deadline) {
		candidate = deadline
	}
	if !candidate.After(currentExpiry) {
		return currentExpiry, false
	}
	return candidate, true
}
