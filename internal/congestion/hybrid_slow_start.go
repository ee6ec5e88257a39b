package congestion

import (
	"time"

	"github.com/minq-project/minq/internal/protocol"
)

const (
	// hybridStartLowWindow is the lower bound on the cwnd, in packets,
	// below which Hybrid Slow Start doesn't try to detect the RTT increase
	// that signals the end of slow start.
	hybridStartLowWindow = protocol.PacketNumber(16)
	// hybridStartMinSamples is the minimum number of RTT samples a round
	// must have before ShouldExitSlowStart will act on them.
	hybridStartMinSamples = 8
	// hybridStartDelayFactorExp and hybridStartDelayMinThresholdUs /
	// hybridStartDelayMaxThresholdUs bound the RTT increase, as a fraction
	// of rtt, that's treated as evidence of queueing delay.
	hybridStartDelayFactorExp       = 3 // 1/8
	hybridStartDelayMinThresholdUs  = 4000
	hybridStartDelayMaxThresholdUs  = 16000
)

// HybridSlowStart implements the TCP Hybrid Slow Start algorithm, used to
// exit slow start before a loss-based signal forces it, by watching for an
// RTT increase within a round that suggests the path queue has started to
// build up.
type HybridSlowStart struct {
	started bool

	endPacketNumber protocol.PacketNumber

	rttSampleCount int
	currentMinRTT  time.Duration
}

// StartReceiveRound starts a new round, ending once an ACK is received for
// a packet number beyond lastSent.
func (s *HybridSlowStart) StartReceiveRound(lastSent protocol.PacketNumber) {
	s.endPacketNumber = lastSent
	s.currentMinRTT = 0
	s.rttSampleCount = 0
	s.started = true
}

// Started reports whether a round has been started since the last Restart.
func (s *HybridSlowStart) Started() bool {
	return s.started
}

// Restart clears the algorithm's state, as if slow start were beginning
// again from scratch (on RTO or connection migration).
func (s *HybridSlowStart) Restart() {
	*s = HybridSlowStart{}
}

// IsEndOfRound reports whether ack concludes the current round.
func (s *HybridSlowStart) IsEndOfRound(ack protocol.PacketNumber) bool {
	return s.endPacketNumber < ack
}

// ShouldExitSlowStart reports whether the round just observed looks like
// queueing delay has begun, and slow start should stop.
func (s *HybridSlowStart) ShouldExitSlowStart(latestRTT, minRTT time.Duration, congestionWindow protocol.PacketNumber) bool {
	if s.rttSampleCount < hybridStartMinSamples {
		s.rttSampleCount++
		if s.currentMinRTT == 0 || s.currentMinRTT > latestRTT {
			s.currentMinRTT = latestRTT
		}
	}
	if s.rttSampleCount == hybridStartMinSamples {
		minRTTincreaseThresholdUs := int64(minRTT/time.Microsecond) / (1 << hybridStartDelayFactorExp)
		if minRTTincreaseThresholdUs < hybridStartDelayMinThresholdUs {
			minRTTincreaseThresholdUs = hybridStartDelayMinThresholdUs
		} else if minRTTincreaseThresholdUs > hybridStartDelayMaxThresholdUs {
			minRTTincreaseThresholdUs = hybridStartDelayMaxThresholdUs
		}
		minRTTincreaseThreshold := time.Duration(minRTTincreaseThresholdUs) * time.Microsecond
		if s.currentMinRTT > minRTT+minRTTincreaseThreshold && congestionWindow >= hybridStartLowWindow {
			return true
		}
	}
	return false
}
