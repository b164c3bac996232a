// Package ident provides identifier generation and clock services.
//
// All persisted entities use opaque 128-bit identifiers rendered as UUID
// strings. Timestamps are UTC instants truncated to millisecond resolution so
// that values survive a round-trip through the database unchanged.
package ident

import (
	"time"

	"github.com/google/uuid"
)

// New returns a fresh opaque identifier.
func New() string {
	return uuid.NewString()
}

// Short returns the first 8 characters of an identifier, for use in branch
// names and log lines. Returns the input unchanged when shorter than 8 chars.
func Short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real wall clock in UTC, millisecond resolution.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FrozenClock is a Clock pinned to a fixed instant. Advance moves it forward.
type FrozenClock struct {
	Instant time.Time
}

// NewFrozenClock creates a FrozenClock at the given instant (normalized to
// UTC milliseconds).
func NewFrozenClock(at time.Time) *FrozenClock {
	return &FrozenClock{Instant: at.UTC().Truncate(time.Millisecond)}
}

// Now implements Clock.
func (c *FrozenClock) Now() time.Time {
	return c.Instant
}

// Advance moves the frozen clock forward by d.
func (c *FrozenClock) Advance(d time.Duration) {
	c.Instant = c.Instant.Add(d)
}
