package quic

import (
	"fmt"
	"net"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/qerr"
)

type (
	TransportError        = qerr.TransportError
	ApplicationError      = qerr.ApplicationError
	StreamError           = qerr.StreamError
	IdleTimeoutError      = qerr.IdleTimeoutError
	HandshakeTimeoutError = qerr.HandshakeTimeoutError
)

type (
	TransportErrorCode   = qerr.TransportErrorCode
	ApplicationErrorCode = qerr.ApplicationErrorCode
	StreamErrorCode      = qerr.StreamErrorCode
)

const (
	NoError                 = qerr.NoError
	InternalError           = qerr.InternalError
	ConnectionRefused       = qerr.ConnectionRefused
	FlowControlError        = qerr.FlowControlError
	StreamLimitError        = qerr.StreamLimitError
	StreamStateError        = qerr.StreamStateError
	FinalSizeError          = qerr.FinalSizeError
	FrameEncodingError      = qerr.FrameEncodingError
	TransportParameterError = qerr.TransportParameterError
	ConnectionIDLimitError  = qerr.ConnectionIDLimitError
	ProtocolViolation       = qerr.ProtocolViolation
	InvalidToken            = qerr.InvalidToken
	CryptoBufferExceeded    = qerr.CryptoBufferExceeded
	KeyUpdateError          = qerr.KeyUpdateError
	AEADLimitReached        = qerr.AEADLimitReached
)

// deadlineError is returned from a stream's Read/Write once its read or
// write deadline has passed.
type deadlineError struct{}

func (deadlineError) Error() string   { return "deadline exceeded" }
func (deadlineError) Timeout() bool   { return true }
func (deadlineError) Temporary() bool { return true }

var errDeadline net.Error = &deadlineError{}

// streamCanceledError wraps the reason a stream's read or write side was
// canceled, either locally or by an incoming STOP_SENDING/RESET_STREAM
// frame, so the error code stays reachable through Unwrap.
type streamCanceledError struct {
	error
	errorCode StreamErrorCode
}

func (e streamCanceledError) Unwrap() error { return e.error }

// errorCodeStopping is the application error code a RESET_STREAM carries
// when it was sent only in reaction to an incoming STOP_SENDING frame,
// rather than an application-requested CancelWrite.
const errorCodeStopping StreamErrorCode = 0

var errTooManyOpenStreams = fmt.Errorf("too many open streams")

// streamOpenErr is returned by OpenStream when the peer's stream limit
// has been reached; unlike a regular error it satisfies StreamLimitReachedError.
type streamOpenErr struct{ error }

func (e streamOpenErr) StreamLimitReached() bool { return true }

// streamError reports a protocol violation tied to one or more stream IDs.
type streamError struct {
	message string
	nums    []protocol.StreamNum
}

func (e streamError) Error() string {
	ids := make([]interface{}, len(e.nums))
	for i, n := range e.nums {
		ids[i] = n
	}
	return fmt.Sprintf(e.message, ids...)
}
