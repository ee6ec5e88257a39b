package utils

import "time"

// MinByteCount returns the smaller of two byte counts. Kept as a named
// helper (rather than the builtin min) for parity with the rest of this
// file's duration/int helpers and because protocol.ByteCount predates
// generics-based min in this codebase's lineage.
func MinByteCount[T ~int | ~int64](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// MaxByteCount returns the larger of two byte counts.
func MaxByteCount[T ~int | ~int64](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// MinDuration returns the smaller of two durations.
func MinDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// MaxDuration returns the larger of two durations.
func MaxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
