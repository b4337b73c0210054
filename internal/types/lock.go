package types

import "time"

// Lock is a TTL-bounded advisory lock on (model, partition range) held
// by a named owner. It expires when LockedAt + TTL has passed.
type Lock struct {
	ModelName  string
	RangeStart time.Time
	RangeEnd   time.Time
	Owner      string
	LockedAt   time.Time
	TTLSeconds int
}

// ExpiresAt returns the instant the lock stops being held.
func (l *Lock) ExpiresAt() time.Time {
	return l.LockedAt.Add(time.Duration(l.TTLSeconds) * time.Second)
}

// Expired reports whether the lock has lapsed as of now.
func (l *Lock) Expired(now time.Time) bool {
	return l.ExpiresAt().Before(now)
}
