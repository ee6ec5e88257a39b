package flowcontrol

import (
	"fmt"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/qerr"
)

func streamFlowControlViolation(id protocol.StreamID, received, window protocol.ByteCount) error {
	return qerr.NewLocalTransportError(qerr.FlowControlError,
		fmt.Sprintf("stream %d: received %d bytes, allowed %d", id, received, window))
}

func connectionFlowControlViolation(received, window protocol.ByteCount) error {
	return qerr.NewLocalTransportError(qerr.FlowControlError,
		fmt.Sprintf("connection-level flow control violation: received %d bytes, allowed %d", received, window))
}
