package congestion

import (
	"math"
	"time"

	"github.com/minq-project/minq/internal/protocol"
)

// maxBurstSizePackets is the smallest burst cap, in packets of the current
// datagram size, the pacer lets accumulate while idle; at high pacing rates
// the cap is larger.
const maxBurstSizePackets = 10

// pacer implements a token bucket pacing algorithm: it hands out a byte
// budget that refills at the configured bandwidth, capped at a multi-packet
// burst, so a sender with room in its congestion window still spreads
// packets out over time instead of firing them all at once.
type pacer struct {
	budgetAtLastSent protocol.ByteCount
	maxDatagramSize  protocol.ByteCount
	lastSentTime     time.Time
	getBandwidth     func() Bandwidth // in bytes/s
}

func newPacer(getBandwidth func() Bandwidth) *pacer {
	p := &pacer{
		maxDatagramSize: initialMaxDatagramSize,
		getBandwidth: func() Bandwidth {
			// Pace a bit faster than the congestion controller's
			// estimate, to leave headroom for probing.
			return getBandwidth() * 5 / 4
		},
	}
	p.budgetAtLastSent = p.maxBurstSize()
	return p
}

func (p *pacer) SentPacket(sendTime time.Time, size protocol.ByteCount) {
	budget := p.Budget(sendTime)
	if size > budget {
		p.budgetAtLastSent = 0
	} else {
		p.budgetAtLastSent = budget - size
	}
	p.lastSentTime = sendTime
}

func (p *pacer) Budget(now time.Time) protocol.ByteCount {
	if p.lastSentTime.IsZero() {
		return p.maxBurstSize()
	}
	budget := p.budgetAtLastSent + (protocol.ByteCount(p.getBandwidth()/BytesPerSecond)*protocol.ByteCount(now.Sub(p.lastSentTime).Nanoseconds()))/1e9
	return min(p.maxBurstSize(), budget)
}

func (p *pacer) maxBurstSize() protocol.ByteCount {
	return max(
		protocol.ByteCount(uint64((protocol.MinPacingDelay+protocol.TimerGranularity).Nanoseconds())*uint64(p.getBandwidth()/BytesPerSecond))/1e9,
		maxBurstSizePackets*p.maxDatagramSize,
	)
}

// TimeUntilSend returns when the next packet should be sent.
func (p *pacer) TimeUntilSend() time.Time {
	if p.budgetAtLastSent >= p.maxDatagramSize {
		return time.Time{}
	}
	return p.lastSentTime.Add(max(
		protocol.MinPacingDelay,
		time.Duration(math.Ceil(float64(p.maxDatagramSize-p.budgetAtLastSent)*1e9/float64(p.getBandwidth()/BytesPerSecond)))*time.Nanosecond,
	))
}

// SetMaxDatagramSize adjusts the packet size the pacer budgets for, e.g.
// after path MTU discovery raises it.
func (p *pacer) SetMaxDatagramSize(s protocol.ByteCount) {
	p.maxDatagramSize = s
}
