package congestion

import (
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
)

// NewCubicSender returns a congestion controller running the CUBIC
// algorithm (or, with reno set, its Reno-compatible fallback), seeded with
// the connection's initial and maximum congestion windows.
func NewCubicSender(clock Clock, rttStats *utils.RTTStats, reno bool, initialCongestionWindow, maxCongestionWindow protocol.ByteCount) SendAlgorithmWithDebugInfos {
	return newCubicSender(clock, rttStats, reno, initialMaxDatagramSize, initialCongestionWindow, maxCongestionWindow, nil)
}

// GetCongestionControlerFromConfig builds the congestion controller
// selected by a connection's CongestionControlAlgorithm transport setting.
func GetCongestionControlerFromConfig(rttStats *utils.RTTStats, congestionConfig protocol.CongestionControlAlgorithm) SendAlgorithmWithDebugInfos {
	reno := congestionConfig == protocol.RENO
	return NewCubicSender(DefaultClock{}, rttStats, reno, protocol.InitialCongestionWindow, protocol.DefaultMaxCongestionWindow)
}
