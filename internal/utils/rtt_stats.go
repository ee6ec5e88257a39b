package utils

import "time"

// RTTStats tracks round-trip time measurements for a single packet-number
// space, implementing the estimator from RFC 9002 section 5: smoothed RTT,
// RTT variance and min RTT, used by loss recovery to size the PTO and
// decide when an ACK is "late enough" to imply loss.
type RTTStats struct {
	minRTT       time.Duration
	latestRTT    time.Duration
	smoothedRTT  time.Duration
	meanDeviation time.Duration
	maxAckDelay  time.Duration

	hasMeasurement bool
}

// MinRTT returns the lowest RTT sample observed over the lifetime of the
// connection.
func (r *RTTStats) MinRTT() time.Duration { return r.minRTT }

// LatestRTT returns the most recent RTT sample.
func (r *RTTStats) LatestRTT() time.Duration { return r.latestRTT }

// SmoothedRTT returns the exponentially weighted moving average RTT.
func (r *RTTStats) SmoothedRTT() time.Duration { return r.smoothedRTT }

// MeanDeviation returns the RTT variance estimate.
func (r *RTTStats) MeanDeviation() time.Duration { return r.meanDeviation }

// MaxAckDelay returns the peer's advertised max_ack_delay transport
// parameter, as last set via SetMaxAckDelay.
func (r *RTTStats) MaxAckDelay() time.Duration { return r.maxAckDelay }

// SetMaxAckDelay records the peer's max_ack_delay transport parameter.
func (r *RTTStats) SetMaxAckDelay(d time.Duration) { r.maxAckDelay = d }

// SetInitialRTT seeds the estimator, e.g. from a previous connection's
// cached session ticket.
func (r *RTTStats) SetInitialRTT(rtt time.Duration) {
	if r.hasMeasurement {
		return
	}
	r.smoothedRTT = rtt
	r.latestRTT = rtt
}

// UpdateRTT records a new RTT sample: sendDelta is the measured round trip
// time for an acknowledged, ack-eliciting packet; ackDelay is the delay the
// peer reported it held the ACK for before sending (ACK_DELAY field). now is
// unused by the estimator itself but kept for parity with implementations
// that also update a last-sample timestamp; it is accepted so call sites
// don't need a branch for it.
func (r *RTTStats) UpdateRTT(sendDelta, ackDelay time.Duration, _ time.Time) {
	if sendDelta <= 0 {
		return
	}
	r.latestRTT = sendDelta

	if !r.hasMeasurement {
		r.minRTT = sendDelta
		r.smoothedRTT = sendDelta
		r.meanDeviation = sendDelta / 2
		r.hasMeasurement = true
		return
	}

	if sendDelta < r.minRTT {
		r.minRTT = sendDelta
	}

	adjustedRTT := sendDelta
	if ackDelay > 0 {
		maxAckDelay := r.maxAckDelay
		if maxAckDelay == 0 || ackDelay <= maxAckDelay {
			if sendDelta >= r.minRTT+ackDelay {
				adjustedRTT = sendDelta - ackDelay
			}
		}
	}

	delta := r.smoothedRTT - adjustedRTT
	if delta < 0 {
		delta = -delta
	}
	r.meanDeviation = (3*r.meanDeviation + delta) / 4
	r.smoothedRTT = (7*r.smoothedRTT + adjustedRTT) / 8
}

// PTO returns the probe-timeout duration derived from the current estimate,
// per RFC 9002 section 6.2.1. includeMaxAckDelay should be false when
// computing the PTO for the Initial/Handshake spaces, where no ACK delay is
// ever applied.
func (r *RTTStats) PTO(includeMaxAckDelay bool) time.Duration {
	if r.smoothedRTT == 0 {
		return 999 * time.Millisecond
	}
	pto := r.smoothedRTT + MaxDuration(4*r.meanDeviation, time.Millisecond)
	if includeMaxAckDelay {
		pto += r.maxAckDelay
	}
	return pto
}
