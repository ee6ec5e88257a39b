package congestion

import (
	"math"
	"time"

	"github.com/minq-project/minq/internal/protocol"
)

// This implements the CUBIC congestion window growth curve from RFC 8312:
// W_cubic(t) = C*(t-K)^3 + W_max, with K = cbrt((W_max-W)/C) chosen so the
// curve passes through the current window at t=0. Units are packets, not
// bytes: this mirrors the vintage of cubicSender that still counts its
// congestion window in packets rather than bytes.
const (
	// defaultNumConnections is the number of TCP connections this
	// congestion controller pretends to be competing as, used to scale
	// alpha/beta more aggressively than a lone TCP flow would.
	defaultNumConnections = 2

	// beta is the window multiplier applied on ordinary loss.
	beta float32 = 0.7
	// betaLastMax is applied instead of beta when estimating the window
	// the connection would have reached, had it not backed off early.
	betaLastMax float32 = 0.85

	// cubicC is the CUBIC scaling constant from the RFC.
	cubicC = 0.4

	maxCubicTimeInterval = 30 * time.Millisecond
)

// Cubic implements the cubic algorithm from RFC 8312.
type Cubic struct {
	clock Clock

	numConnections uint32

	// epoch is when the current cubic cycle started, i.e. the time of the
	// last loss event.
	epoch time.Time

	// lastMaxCongestionWindow is the congestion window just before the
	// last loss event.
	lastMaxCongestionWindow protocol.PacketNumber

	ackedPacketsCount protocol.PacketNumber

	// estimatedTCPcongestionWindow is the window a standard Reno flow
	// would have reached by now, used as a floor during the concave
	// (TCP-friendly) region of the curve.
	estimatedTCPcongestionWindow protocol.PacketNumber

	// originPointCongestionWindow and timeToOriginPoint locate the origin
	// of the cubic curve for the current epoch.
	originPointCongestionWindow protocol.PacketNumber
	timeToOriginPoint           time.Duration

	lastTargetCongestionWindow protocol.PacketNumber
}

// NewCubic returns a fresh Cubic congestion window estimator.
func NewCubic(clock Clock) *Cubic {
	c := &Cubic{
		clock:          clock,
		numConnections: defaultNumConnections,
	}
	c.Reset()
	return c
}

// Reset clears all cubic state, e.g. after an RTO.
func (c *Cubic) Reset() {
	c.epoch = time.Time{}
	c.lastMaxCongestionWindow = 0
	c.ackedPacketsCount = 0
	c.estimatedTCPcongestionWindow = 0
	c.originPointCongestionWindow = 0
	c.timeToOriginPoint = 0
	c.lastTargetCongestionWindow = 0
}

func (c *Cubic) alpha() float32 {
	b := c.beta()
	return 3 * float32(c.numConnections) * float32(c.numConnections) * (1 - b) / (1 + b)
}

func (c *Cubic) beta() float32 {
	return (float32(c.numConnections) - 1 + beta) / float32(c.numConnections)
}

func (c *Cubic) betaLastMax() float32 {
	return (float32(c.numConnections) - 1 + betaLastMax) / float32(c.numConnections)
}

// CongestionWindowAfterPacketLoss computes the new congestion window, in
// packets, following a loss event.
func (c *Cubic) CongestionWindowAfterPacketLoss(currentCongestionWindow protocol.PacketNumber) protocol.PacketNumber {
	if currentCongestionWindow+1 < c.lastMaxCongestionWindow {
		// We never reached the old max, so assume the path supports less
		// than that and back off from a fraction of it instead.
		c.lastMaxCongestionWindow = protocol.PacketNumber(c.betaLastMax() * float32(currentCongestionWindow))
	} else {
		c.lastMaxCongestionWindow = currentCongestionWindow
	}
	c.epoch = time.Time{}
	return protocol.PacketNumber(float32(currentCongestionWindow) * c.beta())
}

// CongestionWindowAfterAck computes the new congestion window, in packets,
// following an ACK, given the path's minimum RTT observed so far.
func (c *Cubic) CongestionWindowAfterAck(currentCongestionWindow protocol.PacketNumber, delayMin time.Duration) protocol.PacketNumber {
	c.ackedPacketsCount++
	currentTime := c.clock.Now()

	if c.epoch.IsZero() {
		c.epoch = currentTime
		c.ackedPacketsCount = 1
		c.estimatedTCPcongestionWindow = currentCongestionWindow
		if c.lastMaxCongestionWindow <= currentCongestionWindow {
			c.timeToOriginPoint = 0
			c.originPointCongestionWindow = currentCongestionWindow
		} else {
			delta := float64(c.lastMaxCongestionWindow - currentCongestionWindow)
			c.timeToOriginPoint = time.Duration(math.Cbrt(delta/cubicC) * float64(time.Second))
			c.originPointCongestionWindow = c.lastMaxCongestionWindow
		}
	}

	elapsedTime := currentTime.Add(delayMin).Sub(c.epoch)
	t := elapsedTime - c.timeToOriginPoint
	tSecs := float64(t) / float64(time.Second)
	deltaCongestionWindow := protocol.PacketNumber(cubicC * tSecs * tSecs * tSecs)

	targetCongestionWindow := c.originPointCongestionWindow + deltaCongestionWindow
	targetCongestionWindow = min(targetCongestionWindow, currentCongestionWindow*3/2)
	c.lastTargetCongestionWindow = targetCongestionWindow

	c.estimatedTCPcongestionWindow += protocol.PacketNumber(float32(c.ackedPacketsCount) * c.alpha() / float32(c.estimatedTCPcongestionWindow))
	c.ackedPacketsCount = 0

	if targetCongestionWindow < c.estimatedTCPcongestionWindow {
		targetCongestionWindow = c.estimatedTCPcongestionWindow
	}
	if targetCongestionWindow <= currentCongestionWindow {
		return currentCongestionWindow + 1
	}
	return targetCongestionWindow
}
