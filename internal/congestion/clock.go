package congestion

import "time"

// Clock abstracts the passage of time so congestion-control unit tests can
// drive it manually instead of racing the wall clock.
type Clock interface {
	Now() time.Time
}

// DefaultClock implements Clock using the real wall clock.
type DefaultClock struct{}

var _ Clock = DefaultClock{}

func (DefaultClock) Now() time.Time { return time.Now() }
