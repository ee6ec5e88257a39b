// Package monotime provides a Time type backed by the monotonic clock
// reading that time.Time already carries internally, without the wall-clock
// baggage (serialization, time zones, calendar arithmetic) that comes with
// using time.Time directly for connection timers and RTT bookkeeping.
package monotime

import "time"

// epoch is the reference point every Time value is an offset from. It's
// fixed at process start, so Time values are only comparable within a
// single process.
var epoch = time.Now()

// Time is a point in time relative to the monotonic clock. The zero Time is
// not "the epoch": it's the absence of a time, mirroring time.Time's zero
// value, so IsZero/FromTime(time.Time{}) round-trip correctly.
type Time struct {
	d time.Duration
}

// Now returns the current time.
func Now() Time {
	return Time{d: time.Since(epoch)}
}

// IsZero reports whether t is the zero Time.
func (t Time) IsZero() bool {
	return t.d == 0
}

// Add returns t+d.
func (t Time) Add(d time.Duration) Time {
	return Time{d: t.d + d}
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration {
	return t.d - u.d
}

// Equal reports whether t and u represent the same instant.
func (t Time) Equal(u Time) bool {
	return t.d == u.d
}

// Before reports whether t is strictly earlier than u.
func (t Time) Before(u Time) bool {
	return t.d < u.d
}

// After reports whether t is strictly later than u.
func (t Time) After(u Time) bool {
	return t.d > u.d
}

// ToTime converts t to a time.Time. The zero Time converts to the zero
// time.Time.
func (t Time) ToTime() time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return epoch.Add(t.d)
}

// FromTime converts a time.Time to a Time. The zero time.Time converts to
// the zero Time.
func FromTime(t time.Time) Time {
	if t.IsZero() {
		return Time{}
	}
	return Time{d: t.Sub(epoch)}
}

// Since returns the time elapsed since t.
func Since(t Time) time.Duration {
	return Now().Sub(t)
}

// Until returns the duration until t.
func Until(t Time) time.Duration {
	return t.Sub(Now())
}
