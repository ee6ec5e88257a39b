package ackhandler

import (
	"time"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
	"github.com/minq-project/minq/internal/wire"
)

// packetsBeforeAck is how many ack-eliciting packets we let through before
// queueing an ACK unconditionally, absent any other reason to send one
// sooner (out-of-order arrival, or the ACK alarm firing).
const packetsBeforeAck = 2

// receivedPacketTracker decides when this endpoint owes the peer an ACK for
// one packet-number space, and builds the ACK frame that says so. It wraps
// a receivedPacketHistory with the queueing policy from RFC 9002 section
// 13.2.1: ack immediately on the very first packet or on an out-of-order
// arrival that the peer doesn't already know about, and otherwise at most
// once per two ack-eliciting packets or once the ACK alarm fires.
type receivedPacketTracker struct {
	largestObserved             protocol.PacketNumber
	largestObservedReceivedTime time.Time
	hasReceivedPacket           bool
	ignoreBelow                 protocol.PacketNumber

	packetHistory *receivedPacketHistory

	ackElicitingPacketsReceivedSinceLastAck int

	ackQueued bool
	ackAlarm  time.Time
	lastAck   *wire.AckFrame

	ect0, ect1, ecnce uint64

	rttStats *utils.RTTStats
	logger   utils.Logger
	version  protocol.Version
}

func newReceivedPacketTracker(rttStats *utils.RTTStats, logger utils.Logger, version protocol.Version) *receivedPacketTracker {
	return &receivedPacketTracker{
		packetHistory: newReceivedPacketHistory(),
		rttStats:      rttStats,
		logger:        logger,
		version:       version,
	}
}

// ReceivedPacket registers that pn arrived at rcvTime, and decides whether
// this warrants queueing an ACK.
func (h *receivedPacketTracker) ReceivedPacket(pn protocol.PacketNumber, ecn protocol.ECN, rcvTime time.Time, isAckEliciting bool) {
	isFirstPacket := !h.hasReceivedPacket
	h.hasReceivedPacket = true

	isMissing := h.isMissing(pn)
	if pn >= h.largestObserved {
		h.largestObserved = pn
		h.largestObservedReceivedTime = rcvTime
	}

	if h.ignoreBelow != 0 && pn < h.ignoreBelow {
		return
	}
	if isNew := h.packetHistory.ReceivedPacket(pn); !isNew {
		return
	}

	switch ecn {
	case protocol.ECT0:
		h.ect0++
	case protocol.ECT1:
		h.ect1++
	case protocol.ECNCE:
		h.ecnce++
	}

	if !isAckEliciting {
		return
	}
	h.ackElicitingPacketsReceivedSinceLastAck++

	switch {
	case isFirstPacket, isMissing:
		h.ackQueued = true
	case h.ackElicitingPacketsReceivedSinceLastAck >= packetsBeforeAck:
		h.ackQueued = true
	}

	if h.ackQueued {
		h.ackAlarm = time.Time{}
		return
	}
	if h.ackAlarm.IsZero() {
		h.ackAlarm = rcvTime.Add(protocol.MaxAckDelay)
	}
}

// isMissing reports whether pn arriving now reveals a gap the peer isn't
// already aware of: either it's past the floor we raised via IgnoreBelow
// without the floor packet itself having shown up yet, or the last ACK we
// actually sent told the peer we'd seen something beyond pn without
// covering pn — meaning the peer may believe pn was lost.
func (h *receivedPacketTracker) isMissing(pn protocol.PacketNumber) bool {
	if h.ignoreBelow > 0 && pn > h.ignoreBelow && !h.packetHistory.IsPotentiallyDuplicate(h.ignoreBelow) {
		return true
	}
	if h.lastAck != nil && pn <= h.lastAck.LargestAcked() && !h.lastAck.AcksPacket(pn) {
		return true
	}
	return false
}

// IgnoreBelow tells the tracker to stop tracking packet numbers smaller
// than pn and to treat pn as the next packet number it's actively waiting
// to hear about. It also clears the corresponding part of the history.
func (h *receivedPacketTracker) IgnoreBelow(pn protocol.PacketNumber) {
	if pn <= h.ignoreBelow {
		return
	}
	h.ignoreBelow = pn
	h.packetHistory.DeleteBelow(pn)
}

// GetAlarmTimeout returns the time at which an ACK should be sent even
// without a new triggering event, or the zero time if no alarm is armed.
func (h *receivedPacketTracker) GetAlarmTimeout() time.Time {
	return h.ackAlarm
}

// GetAckFrame returns the ACK frame to send, or nil if none is due.
// With onlyIfQueued, an ACK is only returned if one was either actively
// queued or the alarm has expired. Without it, an ACK is returned
// opportunistically whenever at least one ack-eliciting packet has arrived
// since the last ACK was sent — used by the packer to piggyback an ACK on
// an already-outgoing packet even if nothing urgently demanded one.
func (h *receivedPacketTracker) GetAckFrame(onlyIfQueued bool) *wire.AckFrame {
	now := time.Now()
	if onlyIfQueued {
		if !h.ackQueued && (h.ackAlarm.IsZero() || h.ackAlarm.After(now)) {
			return nil
		}
	} else if h.ackElicitingPacketsReceivedSinceLastAck == 0 {
		return nil
	}

	ackRanges := h.packetHistory.AppendAckRanges(nil)
	if len(ackRanges) == 0 {
		return nil
	}

	delay := now.Sub(h.largestObservedReceivedTime)
	if delay < 0 {
		delay = 0
	}

	ack := &wire.AckFrame{
		AckRanges: ackRanges,
		DelayTime: delay,
		ECT0:      h.ect0,
		ECT1:      h.ect1,
		ECNCE:     h.ecnce,
	}

	h.lastAck = ack
	h.ackQueued = false
	h.ackAlarm = time.Time{}
	h.ackElicitingPacketsReceivedSinceLastAck = 0
	return ack
}
