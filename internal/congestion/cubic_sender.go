package congestion

import (
	"time"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
)

const (
	// initialMaxDatagramSize is the default maximum packet size cubicSender
	// budgets for before path MTU discovery (or the handshake) raises it.
	initialMaxDatagramSize protocol.ByteCount = protocol.InitialPacketSize
	// maxDatagramSize is an alias kept for call sites that size the
	// congestion window directly off the negotiated packet size rather
	// than tracking SetMaxDatagramSize adjustments.
	maxDatagramSize = initialMaxDatagramSize

	minCongestionWindowPackets = 2
	// renoBeta is the multiplicative window reduction applied on loss when
	// running in Reno-compatible mode (as opposed to CUBIC's own beta).
	renoBeta float32 = 0.7

	// infBandwidth is returned by BandwidthEstimate before there's a valid
	// RTT sample to estimate from.
	infBandwidth = Bandwidth(infiniteBandwidth)
)

// SendAlgorithm implements a congestion control algorithm.
type SendAlgorithm interface {
	TimeUntilSend(bytesInFlight protocol.ByteCount) time.Time
	HasPacingBudget(now time.Time) bool
	OnPacketSent(sentTime time.Time, bytesInFlight protocol.ByteCount, packetNumber protocol.PacketNumber, bytes protocol.ByteCount, isRetransmittable bool)
	CanSend(bytesInFlight protocol.ByteCount) bool
	MaybeExitSlowStart()
	OnPacketAcked(number protocol.PacketNumber, ackedBytes, priorInFlight protocol.ByteCount, eventTime time.Time)
	OnCongestionEvent(number protocol.PacketNumber, lostBytes, priorInFlight protocol.ByteCount)
	OnRetransmissionTimeout(packetsRetransmitted bool)
	SetMaxDatagramSize(protocol.ByteCount)
}

// SendAlgorithmWithDebugInfos adds accessors used for logging / tests on
// top of SendAlgorithm.
type SendAlgorithmWithDebugInfos interface {
	SendAlgorithm
	InSlowStart() bool
	InRecovery() bool
	GetCongestionWindow() protocol.ByteCount
}

type cubicSender struct {
	hybridSlowStart HybridSlowStart
	rttStats        *utils.RTTStats
	cubic           *Cubic
	pacer           *pacer
	clock           Clock
	reno            bool

	maxDatagramSize protocol.ByteCount

	// Track the largest packet that has been sent.
	largestSentPacketNumber protocol.PacketNumber

	// Track the largest packet that has been acked.
	largestAckedPacketNumber protocol.PacketNumber

	// Track the largest packet number outstanding when a CWND cutback
	// occurs.
	largestSentAtLastCutback protocol.PacketNumber

	// Whether the last loss event caused us to exit slowstart.
	// Used for stats collection of slowstartPacketsLost
	lastCutbackExitedSlowstart bool

	// Congestion window in bytes.
	congestionWindow protocol.ByteCount

	// Slow start congestion window in bytes, aka ssthresh.
	slowStartThreshold protocol.ByteCount

	// Maximum congestion window in bytes.
	maxCongestionWindow protocol.ByteCount

	// Minimum congestion window in bytes.
	minCongestionWindow protocol.ByteCount

	// Number of connections to simulate.
	numConnections int

	// ACK counter for the Reno implementation.
	numAckedPackets uint64

	initialCongestionWindow    protocol.ByteCount
	initialMaxCongestionWindow protocol.ByteCount
}

var (
	_ SendAlgorithm              = &cubicSender{}
	_ SendAlgorithmWithDebugInfos = &cubicSender{}
)

// newCubicSender returns a new cubic sender.
func newCubicSender(
	clock Clock,
	rttStats *utils.RTTStats,
	reno bool,
	initialMaxDatagramSize, initialCongestionWindow, initialMaxCongestionWindow protocol.ByteCount,
	tracer any,
) *cubicSender {
	c := &cubicSender{
		rttStats:                   rttStats,
		largestSentPacketNumber:    protocol.InvalidPacketNumber,
		largestAckedPacketNumber:   protocol.InvalidPacketNumber,
		largestSentAtLastCutback:   protocol.InvalidPacketNumber,
		initialCongestionWindow:    initialCongestionWindow,
		initialMaxCongestionWindow: initialMaxCongestionWindow,
		congestionWindow:           initialCongestionWindow,
		minCongestionWindow:        minCongestionWindowPackets * initialMaxDatagramSize,
		slowStartThreshold:         protocol.MaxByteCount,
		maxCongestionWindow:        initialMaxCongestionWindow,
		numConnections:             defaultNumConnections,
		clock:                      clock,
		reno:                       reno,
		maxDatagramSize:            initialMaxDatagramSize,
		cubic:                      NewCubic(clock),
	}
	c.pacer = newPacer(c.BandwidthEstimate)
	return c
}

// TimeUntilSend returns when the next packet should be sent.
func (c *cubicSender) TimeUntilSend(_ protocol.ByteCount) time.Time {
	return c.pacer.TimeUntilSend()
}

func (c *cubicSender) HasPacingBudget(now time.Time) bool {
	return c.pacer.Budget(now) >= c.maxDatagramSize
}

func (c *cubicSender) maxCongestionWindowInPackets() protocol.PacketNumber {
	return protocol.PacketNumber(c.maxCongestionWindow / c.maxDatagramSize)
}

func (c *cubicSender) minCongestionWindowInPackets() protocol.PacketNumber {
	return protocol.PacketNumber(c.minCongestionWindow / c.maxDatagramSize)
}

func (c *cubicSender) OnPacketSent(
	sentTime time.Time,
	_ protocol.ByteCount,
	packetNumber protocol.PacketNumber,
	bytes protocol.ByteCount,
	isRetransmittable bool,
) {
	c.pacer.SentPacket(sentTime, bytes)
	if !isRetransmittable {
		return
	}
	c.largestSentPacketNumber = packetNumber
	c.hybridSlowStart.StartReceiveRound(packetNumber)
}

func (c *cubicSender) CanSend(bytesInFlight protocol.ByteCount) bool {
	return bytesInFlight < c.GetCongestionWindow()
}

func (c *cubicSender) InSlowStart() bool {
	return c.GetCongestionWindow() < c.slowStartThreshold
}

func (c *cubicSender) InRecovery() bool {
	return c.largestAckedPacketNumber != protocol.InvalidPacketNumber && c.largestAckedPacketNumber <= c.largestSentAtLastCutback
}

func (c *cubicSender) GetCongestionWindow() protocol.ByteCount {
	return c.congestionWindow
}

func (c *cubicSender) MaybeExitSlowStart() {
	if c.InSlowStart() && c.hybridSlowStart.ShouldExitSlowStart(c.rttStats.LatestRTT(), c.rttStats.MinRTT(), c.maxCongestionWindowInPackets()) {
		c.slowStartThreshold = c.congestionWindow
	}
}

func (c *cubicSender) OnPacketAcked(
	ackedPacketNumber protocol.PacketNumber,
	ackedBytes protocol.ByteCount,
	priorInFlight protocol.ByteCount,
	eventTime time.Time,
) {
	c.largestAckedPacketNumber = utils.MaxPacketNumber(ackedPacketNumber, c.largestAckedPacketNumber)
	if c.InRecovery() {
		return
	}
	c.maybeIncreaseCwnd(ackedPacketNumber, ackedBytes, priorInFlight, eventTime)
	if c.InSlowStart() {
		c.hybridSlowStart.IsEndOfRound(ackedPacketNumber)
	}
}

func (c *cubicSender) OnCongestionEvent(
	packetNumber protocol.PacketNumber,
	lostBytes protocol.ByteCount,
	priorInFlight protocol.ByteCount,
) {
	// Losses of packets sent before the last cutback belong to the same
	// loss event and don't reduce the window again.
	if packetNumber <= c.largestSentAtLastCutback {
		return
	}
	c.lastCutbackExitedSlowstart = c.InSlowStart()
	if c.reno {
		c.congestionWindow = protocol.ByteCount(float32(c.congestionWindow) * renoBeta)
	} else {
		c.congestionWindow = c.cubic.CongestionWindowAfterPacketLoss(protocol.PacketNumber(c.congestionWindow/c.maxDatagramSize)) * c.maxDatagramSize
	}
	if c.congestionWindow < c.minCongestionWindow {
		c.congestionWindow = c.minCongestionWindow
	}
	c.slowStartThreshold = c.congestionWindow
	c.largestSentAtLastCutback = c.largestSentPacketNumber
	// reset packet count from congestion avoidance mode. We start
	// counting again when we're out of recovery.
	c.numAckedPackets = 0
}

func (c *cubicSender) renoBeta() float32 {
	return (float32(c.numConnections) - 1 + renoBeta) / float32(c.numConnections)
}

// maybeIncreaseCwnd may increase the congestion window, after a packet has
// been acked.
func (c *cubicSender) maybeIncreaseCwnd(
	_ protocol.PacketNumber,
	ackedBytes protocol.ByteCount,
	priorInFlight protocol.ByteCount,
	eventTime time.Time,
) {
	if !c.isCwndLimited(priorInFlight) {
		c.cubic.Reset()
		return
	}
	if c.congestionWindow >= c.maxCongestionWindow {
		return
	}
	if c.InSlowStart() {
		c.congestionWindow += c.maxDatagramSize
		return
	}
	if c.reno {
		c.numAckedPackets++
		if c.numAckedPackets >= uint64(c.congestionWindow/c.maxDatagramSize) {
			c.congestionWindow += c.maxDatagramSize
			c.numAckedPackets = 0
		}
	} else {
		newWindow := c.cubic.CongestionWindowAfterAck(protocol.PacketNumber(c.congestionWindow/c.maxDatagramSize), c.rttStats.MinRTT()) * c.maxDatagramSize
		c.congestionWindow = min(newWindow, c.maxCongestionWindow)
	}
}

func (c *cubicSender) isCwndLimited(bytesInFlight protocol.ByteCount) bool {
	congestionWindow := c.GetCongestionWindow()
	if bytesInFlight >= congestionWindow {
		return true
	}
	// The window also counts as used up when at most maxBurstPackets full
	// packets of room are left in it.
	const maxBurstPackets = 3
	availableBytes := congestionWindow - bytesInFlight
	slowStartLimited := c.InSlowStart() && bytesInFlight > congestionWindow/2
	return slowStartLimited || availableBytes <= maxBurstPackets*c.maxDatagramSize
}

// BandwidthEstimate returns the current bandwidth estimate, based on the
// current congestion window and the smoothed RTT.
func (c *cubicSender) BandwidthEstimate() Bandwidth {
	srtt := c.rttStats.SmoothedRTT()
	if srtt == 0 {
		return infBandwidth
	}
	return BandwidthFromDelta(c.GetCongestionWindow(), srtt)
}

// OnRetransmissionTimeout is called on RTO, possibly setting the CWND to
// the minimum, reflecting the path's apparent inability to make forward
// progress without a timer-based kick.
func (c *cubicSender) OnRetransmissionTimeout(packetsRetransmitted bool) {
	c.largestSentAtLastCutback = protocol.InvalidPacketNumber
	if !packetsRetransmitted {
		return
	}
	c.hybridSlowStart.Restart()
	c.cubic.Reset()
	c.slowStartThreshold = c.congestionWindow / 2
	c.congestionWindow = c.minCongestionWindow
}

// OnConnectionMigration resets the congestion window and slow start
// threshold, as the previous path's bandwidth estimate no longer applies.
func (c *cubicSender) OnConnectionMigration() {
	c.hybridSlowStart = HybridSlowStart{}
	c.largestSentPacketNumber = protocol.InvalidPacketNumber
	c.largestAckedPacketNumber = protocol.InvalidPacketNumber
	c.largestSentAtLastCutback = protocol.InvalidPacketNumber
	c.lastCutbackExitedSlowstart = false
	c.cubic.Reset()
	c.numAckedPackets = 0
	c.congestionWindow = c.initialCongestionWindow
	c.slowStartThreshold = c.initialMaxCongestionWindow
	c.maxCongestionWindow = c.initialMaxCongestionWindow
}

func (c *cubicSender) SetMaxDatagramSize(s protocol.ByteCount) {
	if s < c.maxDatagramSize {
		panic("cubicSender: decreasing the maximum packet size is not supported")
	}
	cwndIsMinCwnd := c.congestionWindow == c.minCongestionWindow
	c.maxCongestionWindow = c.maxCongestionWindow / c.maxDatagramSize * s
	c.maxDatagramSize = s
	if cwndIsMinCwnd {
		c.congestionWindow = minCongestionWindowPackets * s
	}
	c.minCongestionWindow = minCongestionWindowPackets * s
	c.pacer.SetMaxDatagramSize(s)
}
