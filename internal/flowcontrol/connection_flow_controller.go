package flowcontrol

import (
	"time"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
)

// ConnectionFlowController tracks the aggregate send and receive windows
// that bound every stream on a connection combined.
type ConnectionFlowController interface {
	AddBytesSent(protocol.ByteCount)
	SendWindowSize() protocol.ByteCount
	UpdateSendWindow(protocol.ByteCount) bool
	IsNewlyBlocked() (bool, protocol.ByteCount)
	Reset() error

	AddBytesRead(protocol.ByteCount)
	IncrementHighestReceived(protocol.ByteCount)
	GetWindowUpdate() protocol.ByteCount
	EnsureMinimumWindowSize(protocol.ByteCount)
	CheckFlowControlViolation() bool
}

type connectionFlowController struct {
	baseFlowController

	logger utils.Logger

	// queueWindowUpdate is called once bytesRead crosses the threshold at
	// which a MAX_DATA frame becomes worth sending; it doesn't send the
	// frame itself, only schedules one to be packed on the next
	// opportunity.
	queueWindowUpdate func()

	// allowWindowIncrease gates auto-tuning: the connection only doubles
	// its receive window if the caller confirms the extra buffering is
	// affordable, passing the window size being considered.
	allowWindowIncrease func(size protocol.ByteCount) bool

	epochStartTime   time.Time
	epochStartOffset protocol.ByteCount
}

// NewConnectionFlowController creates the connection-wide flow controller.
// queueWindowUpdate is invoked whenever newly-read bytes make a MAX_DATA
// frame worth sending; allowWindowIncrease gates whether the receive window
// may grow beyond receiveWindow when the peer is reading fast.
func NewConnectionFlowController(
	receiveWindow, maxReceiveWindow protocol.ByteCount,
	queueWindowUpdate func(),
	allowWindowIncrease func(protocol.ByteCount) bool,
	rttStats *utils.RTTStats,
	logger utils.Logger,
) ConnectionFlowController {
	return &connectionFlowController{
		queueWindowUpdate:   queueWindowUpdate,
		allowWindowIncrease: allowWindowIncrease,
		logger:              logger,
		baseFlowController: baseFlowController{
			rttStats:             rttStats,
			receiveWindow:        receiveWindow,
			receiveWindowSize:    receiveWindow,
			maxReceiveWindowSize: maxReceiveWindow,
		},
	}
}

// IncrementHighestReceived is called by each stream's controller as it
// advances its own highest-received offset, keeping the connection-wide
// total in sync without requiring every stream to report its absolute
// offset.
func (c *connectionFlowController) IncrementHighestReceived(n protocol.ByteCount) {
	c.highestReceived += n
}

func (c *connectionFlowController) AddBytesRead(n protocol.ByteCount) {
	c.baseFlowController.AddBytesRead(n)
	if c.hasWindowUpdate() && c.queueWindowUpdate != nil {
		c.queueWindowUpdate()
	}
}

// GetWindowUpdate returns the new connection-wide receive window offset, or
// 0 if the current window hasn't been consumed enough to warrant one. It
// reimplements baseFlowController.getWindowUpdate rather than calling it,
// since Go's embedding doesn't let maybeAdjustWindowSize's override below
// take part in that call.
func (c *connectionFlowController) GetWindowUpdate() protocol.ByteCount {
	if !c.hasWindowUpdate() {
		return 0
	}
	c.maybeAdjustWindowSize()
	c.receiveWindow = c.bytesRead + c.receiveWindowSize
	c.lastWindowUpdateTime = time.Now()
	return c.receiveWindow
}

// maybeAdjustWindowSize overrides the base implementation with an
// epoch-based variant: the window only doubles once per round trip, and
// only if the caller's allowWindowIncrease callback approves spending the
// memory.
func (c *connectionFlowController) maybeAdjustWindowSize() {
	bytesReadInEpoch := c.bytesRead - c.epochStartOffset
	if bytesReadInEpoch <= c.receiveWindowSize/2 {
		return
	}
	rtt := c.rttStats.SmoothedRTT()
	if rtt == 0 {
		return
	}
	if time.Since(c.epochStartTime) >= rtt {
		c.epochStartTime = time.Now()
		c.epochStartOffset = c.bytesRead
		return
	}
	newSize := utils.MinByteCount(2*c.receiveWindowSize, c.maxReceiveWindowSize)
	if newSize == c.receiveWindowSize {
		return
	}
	if c.allowWindowIncrease != nil && !c.allowWindowIncrease(c.receiveWindowSize) {
		return
	}
	c.receiveWindowSize = newSize
	c.epochStartTime = time.Now()
	c.epochStartOffset = c.bytesRead
	if c.logger != nil {
		c.logger.Debugf("increasing connection-level receive flow control window to %d kB", c.receiveWindowSize/(1<<10))
	}
}

func (c *connectionFlowController) EnsureMinimumWindowSize(size protocol.ByteCount) {
	c.baseFlowController.EnsureMinimumWindowSize(size)
	c.epochStartTime = time.Now()
	c.epochStartOffset = c.bytesRead
}
