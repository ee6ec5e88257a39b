package ackhandler

import (
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
)

// NewAckHandler builds the sent- and received-packet handler pair for a
// single connection, sharing one RTT estimator between the congestion
// controller and the ACK-queueing policy.
func NewAckHandler(
	initialPacketNumber protocol.PacketNumber,
	rttStats *utils.RTTStats,
	pers protocol.Perspective,
	logger utils.Logger,
	version protocol.Version,
) (SentPacketHandler, ReceivedPacketHandler) {
	sph := newSentPacketHandler(initialPacketNumber, rttStats, pers, logger)
	return sph, newReceivedPacketHandler(sph, rttStats, logger, version)
}
