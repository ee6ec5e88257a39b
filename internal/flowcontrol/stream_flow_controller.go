package flowcontrol

import (
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
)

// StreamFlowController tracks one stream's send and receive windows, and
// relays receive-side bookkeeping up to a ConnectionFlowController so the
// connection's aggregate window is enforced alongside the stream's own.
type StreamFlowController interface {
	AddBytesSent(protocol.ByteCount)
	SendWindowSize() protocol.ByteCount
	UpdateSendWindow(protocol.ByteCount) bool
	IsNewlyBlocked() (bool, protocol.ByteCount)

	AddBytesRead(protocol.ByteCount)
	UpdateHighestReceived(byteOffset protocol.ByteCount, final bool) error
	GetWindowUpdate() protocol.ByteCount
	CheckFlowControlViolation() bool

	Abandon()
}

type streamFlowController struct {
	baseFlowController

	streamID   protocol.StreamID
	connection ConnectionFlowController

	receivedFinalOffset bool
}

// NewStreamFlowController creates a flow controller for a single stream.
// receiveWindow and maxReceiveWindow bound the stream's own receive window;
// connection aggregates this stream's bytes into the connection-wide
// window maintained by cfc.
func NewStreamFlowController(
	streamID protocol.StreamID,
	cfc ConnectionFlowController,
	receiveWindow, maxReceiveWindow protocol.ByteCount,
	initialSendWindow protocol.ByteCount,
	rttStats *utils.RTTStats,
) StreamFlowController {
	return &streamFlowController{
		streamID:   streamID,
		connection: cfc,
		baseFlowController: baseFlowController{
			rttStats:             rttStats,
			receiveWindow:        receiveWindow,
			receiveWindowSize:    receiveWindow,
			maxReceiveWindowSize: maxReceiveWindow,
			sendWindow:           initialSendWindow,
		},
	}
}

// UpdateHighestReceived advances the stream's highest-received offset and
// feeds the delta to the connection-level controller. A byteOffset lower
// than one already seen is only an error once the stream has announced a
// final size; until then it's an ordinary consequence of reordering.
func (c *streamFlowController) UpdateHighestReceived(byteOffset protocol.ByteCount, final bool) error {
	if c.receivedFinalOffset {
		return nil
	}
	if final {
		c.receivedFinalOffset = true
	}
	if byteOffset == c.highestReceived {
		return nil
	}
	if byteOffset < c.highestReceived {
		if final {
			return ErrReceivedSmallerByteOffset
		}
		return nil
	}
	increment := byteOffset - c.highestReceived
	c.highestReceived = byteOffset
	c.connection.IncrementHighestReceived(increment)
	if c.checkFlowControlViolation() {
		return streamFlowControlViolation(c.streamID, c.highestReceived, c.receiveWindow)
	}
	return nil
}

func (c *streamFlowController) AddBytesRead(n protocol.ByteCount) {
	c.baseFlowController.AddBytesRead(n)
	c.connection.AddBytesRead(n)
}

// GetWindowUpdate returns a new stream-level receive window offset, if the
// stream has consumed enough of its current window to justify one.
func (c *streamFlowController) GetWindowUpdate() protocol.ByteCount {
	oldWindowSize := c.receiveWindowSize
	offset := c.getWindowUpdate()
	if offset != 0 && c.receiveWindowSize > oldWindowSize {
		utils.DefaultLogger.Debugf("stream %d: increasing receive flow control window to %d kB", c.streamID, c.receiveWindowSize/(1<<10))
	}
	return offset
}

// Abandon is called when the stream is closed and no further window
// updates for it are useful.
func (c *streamFlowController) Abandon() {}
