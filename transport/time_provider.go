package transport

import "time"

// TimeProvider abstracts the clock so timing-dependent components can be
// driven deterministically in tests. Implementations must be safe for
// concurrent use.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// ClockOrDefault returns tp, or the system clock when tp is nil.
func ClockOrDefault(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}
