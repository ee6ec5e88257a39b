package ackhandler

import (
	"time"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
	"github.com/minq-project/minq/internal/wire"
)

// receivedPacketHandler multiplexes a receivedPacketTracker per packet
// number space: Initial and Handshake packets are tracked and acked
// independently of the combined 0-RTT/1-RTT space, mirroring how
// sentPacketHandler keeps three packetNumberSpaces.
type receivedPacketHandler struct {
	initial   *receivedPacketTracker
	handshake *receivedPacketTracker
	appData   *receivedPacketTracker

	sentPackets sentPacketTracker
}

var _ ReceivedPacketHandler = &receivedPacketHandler{}

func newReceivedPacketHandler(sentPackets sentPacketTracker, rttStats *utils.RTTStats, logger utils.Logger, version protocol.Version) *receivedPacketHandler {
	return &receivedPacketHandler{
		initial:     newReceivedPacketTracker(rttStats, logger, version),
		handshake:   newReceivedPacketTracker(rttStats, logger, version),
		appData:     newReceivedPacketTracker(rttStats, logger, version),
		sentPackets: sentPackets,
	}
}

func (h *receivedPacketHandler) getTracker(encLevel protocol.EncryptionLevel) *receivedPacketTracker {
	switch encLevel {
	case protocol.EncryptionInitial:
		return h.initial
	case protocol.EncryptionHandshake:
		return h.handshake
	case protocol.Encryption0RTT, protocol.Encryption1RTT:
		return h.appData
	default:
		panic("received packet handler BUG: invalid packet number space")
	}
}

func (h *receivedPacketHandler) IsPotentiallyDuplicate(pn protocol.PacketNumber, encLevel protocol.EncryptionLevel) bool {
	tracker := h.getTracker(encLevel)
	if tracker == nil {
		return true
	}
	return tracker.packetHistory.IsPotentiallyDuplicate(pn)
}

func (h *receivedPacketHandler) ReceivedPacket(pn protocol.PacketNumber, ecn protocol.ECN, encLevel protocol.EncryptionLevel, rcvTime time.Time, shouldInstigateAck bool) {
	h.sentPackets.ReceivedPacket(encLevel)
	tracker := h.getTracker(encLevel)
	if tracker == nil {
		return
	}
	tracker.ReceivedPacket(pn, ecn, rcvTime, shouldInstigateAck)
}

func (h *receivedPacketHandler) DropPackets(encLevel protocol.EncryptionLevel) {
	switch encLevel {
	case protocol.EncryptionInitial:
		h.initial = nil
	case protocol.EncryptionHandshake:
		h.handshake = nil
	default:
		panic("received packet handler BUG: only Initial and Handshake packet number spaces are ever dropped")
	}
}

// GetAlarmTimeout returns the earliest alarm timeout across all active
// packet number spaces.
func (h *receivedPacketHandler) GetAlarmTimeout() time.Time {
	var deadline time.Time
	if h.initial != nil {
		deadline = h.initial.GetAlarmTimeout()
	}
	if h.handshake != nil {
		if t := h.handshake.GetAlarmTimeout(); !t.IsZero() && (deadline.IsZero() || t.Before(deadline)) {
			deadline = t
		}
	}
	if t := h.appData.GetAlarmTimeout(); !t.IsZero() && (deadline.IsZero() || t.Before(deadline)) {
		deadline = t
	}
	return deadline
}

func (h *receivedPacketHandler) GetAckFrame(encLevel protocol.EncryptionLevel, onlyIfQueued bool) *wire.AckFrame {
	tracker := h.getTracker(encLevel)
	if tracker == nil {
		return nil
	}
	return tracker.GetAckFrame(onlyIfQueued)
}
