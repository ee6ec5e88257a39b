package flowcontrol

import (
	"errors"
	"time"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
)

// ErrReceivedSmallerByteOffset is returned when a stream's final size is
// announced below an offset that has already been received.
var ErrReceivedSmallerByteOffset = errors.New("flowcontrol: received a smaller byte offset")

// baseFlowController implements the send- and receive-side bookkeeping
// shared by the per-stream and connection-level flow controllers: tracking
// how much of the peer-advertised send window has been used, and
// auto-tuning the local receive window so that a fast reader doesn't stall
// waiting for a round trip's worth of WindowUpdate frames.
type baseFlowController struct {
	rttStats *utils.RTTStats

	bytesSent     protocol.ByteCount
	sendWindow    protocol.ByteCount
	lastBlockedAt protocol.ByteCount

	lastWindowUpdateTime time.Time

	bytesRead            protocol.ByteCount
	highestReceived      protocol.ByteCount
	receiveWindow        protocol.ByteCount
	receiveWindowSize    protocol.ByteCount
	maxReceiveWindowSize protocol.ByteCount
}

func (c *baseFlowController) AddBytesSent(n protocol.ByteCount) {
	c.bytesSent += n
}

// sendWindowSize returns the number of bytes that can still be sent within
// the window the peer has granted.
func (c *baseFlowController) sendWindowSize() protocol.ByteCount {
	if c.bytesSent > c.sendWindow {
		return 0
	}
	return c.sendWindow - c.bytesSent
}

// SendWindowSize is the exported form of sendWindowSize, used by callers
// outside this package.
func (c *baseFlowController) SendWindowSize() protocol.ByteCount {
	return c.sendWindowSize()
}

// UpdateSendWindow processes a MAX_DATA or MAX_STREAM_DATA offset. Offsets
// never move the window backwards: a peer advertising a smaller window than
// one it already granted is ignored, not applied.
func (c *baseFlowController) UpdateSendWindow(offset protocol.ByteCount) bool {
	if offset <= c.sendWindow {
		return false
	}
	c.sendWindow = offset
	return true
}

// IsNewlyBlocked reports whether the send window is currently exhausted and
// this is the first time the caller has asked since the window reached its
// current offset. It's used to decide whether a DATA_BLOCKED /
// STREAM_DATA_BLOCKED frame is worth sending.
func (c *baseFlowController) IsNewlyBlocked() (bool, protocol.ByteCount) {
	if c.sendWindowSize() != 0 || c.sendWindow == c.lastBlockedAt {
		return false, 0
	}
	c.lastBlockedAt = c.sendWindow
	return true, c.sendWindow
}

func (c *baseFlowController) AddBytesRead(n protocol.ByteCount) {
	if c.bytesRead == 0 {
		c.lastWindowUpdateTime = time.Now()
	}
	c.bytesRead += n
}

// getWindowUpdate returns the new receive window offset if enough of the
// current window has been consumed to justify sending an update, or 0 if
// not.
func (c *baseFlowController) getWindowUpdate() protocol.ByteCount {
	if !c.hasWindowUpdate() {
		return 0
	}
	c.maybeAdjustWindowSize()
	c.receiveWindow = c.bytesRead + c.receiveWindowSize
	c.lastWindowUpdateTime = time.Now()
	return c.receiveWindow
}

func (c *baseFlowController) hasWindowUpdate() bool {
	bytesRemaining := c.receiveWindow - c.bytesRead
	return bytesRemaining < protocol.ByteCount(float64(c.receiveWindowSize)*(1-protocol.WindowUpdateThreshold))
}

// maybeAdjustWindowSize doubles the receive window, capped at
// maxReceiveWindowSize, if the previous window update went out less than
// 4*WindowUpdateThreshold round trips ago: the peer is reading fast enough
// that the current window is forcing updates more often than necessary.
func (c *baseFlowController) maybeAdjustWindowSize() {
	if c.lastWindowUpdateTime.IsZero() {
		return
	}
	rtt := c.rttStats.SmoothedRTT()
	if rtt == 0 {
		return
	}
	if time.Since(c.lastWindowUpdateTime) >= 4*protocol.WindowUpdateThreshold*rtt {
		return
	}
	c.receiveWindowSize = utils.MinByteCount(2*c.receiveWindowSize, c.maxReceiveWindowSize)
}

// EnsureMinimumWindowSize raises the receive window size to at least size,
// capped at the configured maximum. Used once transport parameters reveal
// the peer's advertised initial window.
func (c *baseFlowController) EnsureMinimumWindowSize(size protocol.ByteCount) {
	if size <= c.receiveWindowSize {
		return
	}
	c.receiveWindowSize = utils.MinByteCount(size, c.maxReceiveWindowSize)
	c.lastWindowUpdateTime = time.Now()
}

func (c *baseFlowController) checkFlowControlViolation() bool {
	return c.highestReceived > c.receiveWindow
}

// CheckFlowControlViolation reports whether more data has been received
// than the advertised receive window permits.
func (c *baseFlowController) CheckFlowControlViolation() bool {
	return c.checkFlowControlViolation()
}

// Reset clears the send-side accounting. It must only be called before any
// data has been received, e.g. when discarding 0-RTT state that was
// rejected by the peer.
func (c *baseFlowController) Reset() error {
	if c.bytesRead > 0 || c.highestReceived > 0 {
		return errors.New("flowcontrol: cannot reset a controller that already received data")
	}
	c.bytesSent = 0
	c.lastBlockedAt = 0
	return nil
}
