package engine

import "time"

// Clock supplies wall-clock time for timestamps: document updated_at,
// snapshot creation and expiry, audit entries.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
