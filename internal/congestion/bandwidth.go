package congestion

import (
	"math"
	"time"

	"github.com/minq-project/minq/internal/protocol"
)

// Bandwidth is a rate, in bits per second.
type Bandwidth uint64

const (
	// BitsPerSecond is 1 bit per second.
	BitsPerSecond Bandwidth = 1
	// BytesPerSecond is 1 byte per second.
	BytesPerSecond = 8 * BitsPerSecond

	infiniteBandwidth Bandwidth = math.MaxUint64
)

// BandwidthFromDelta calculates the bandwidth required to send bytes over
// the given duration.
func BandwidthFromDelta(bytes protocol.ByteCount, d time.Duration) Bandwidth {
	return Bandwidth(bytes) * BytesPerSecond * Bandwidth(time.Second) / Bandwidth(d)
}
