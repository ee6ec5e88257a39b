package qerr

import (
	"fmt"
	"net"
)

// TransportError is a connection-level error, signalled to the peer with a
// CONNECTION_CLOSE frame of type 0x1c and fatal to the connection.
type TransportError struct {
	ErrorCode TransportErrorCode
	// FrameType is the frame that triggered the error, if any (zero if not
	// attributable to a single frame).
	FrameType uint64
	Remote    bool // whether this error was received from the peer (vs. raised locally)
	Message   string
}

func NewLocalTransportError(code TransportErrorCode, msg string) *TransportError {
	return &TransportError{ErrorCode: code, Message: msg}
}

func NewLocalFrameError(code TransportErrorCode, frameType uint64, msg string) *TransportError {
	return &TransportError{ErrorCode: code, FrameType: frameType, Message: msg}
}

func (e *TransportError) Error() string {
	if e.Message == "" {
		return e.ErrorCode.String()
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

func (e *TransportError) Is(target error) bool {
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return target == net.ErrClosed
}

// ApplicationError is a stream- or connection-scoped error defined by the
// application, carried in an application CONNECTION_CLOSE, RESET_STREAM or
// STOP_SENDING frame.
type ApplicationError struct {
	ErrorCode ApplicationErrorCode
	Remote    bool
	Message   string
}

func NewLocalApplicationError(code ApplicationErrorCode, msg string) *ApplicationError {
	return &ApplicationError{ErrorCode: code, Message: msg}
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("application error %#x", uint64(e.ErrorCode))
	}
	return fmt.Sprintf("application error %#x: %s", uint64(e.ErrorCode), e.Message)
}

func (e *ApplicationError) Is(target error) bool {
	if _, ok := target.(*ApplicationError); ok {
		return true
	}
	return target == net.ErrClosed
}

// StreamError is returned from a stream's Read/Write methods, and from the
// stream-cancellation API, once the stream has moved into an aborted state -
// either because the application reset it locally, or because a
// RESET_STREAM/STOP_SENDING frame arrived from the peer.
type StreamError struct {
	StreamID  uint64
	ErrorCode StreamErrorCode
	Remote    bool
}

func (e *StreamError) Error() string {
	who := "locally"
	if e.Remote {
		who = "by the peer"
	}
	return fmt.Sprintf("stream %d reset %s with error code %#x", e.StreamID, who, uint64(e.ErrorCode))
}

func (e *StreamError) Is(target error) bool {
	_, ok := target.(*StreamError)
	return ok
}

// IdleTimeoutError is returned once the connection's idle timer has fired.
type IdleTimeoutError struct{}

func (IdleTimeoutError) Error() string { return "timeout: no recent network activity" }
func (IdleTimeoutError) Timeout() bool { return true }
func (e IdleTimeoutError) Is(target error) bool {
	_, ok := target.(IdleTimeoutError)
	return ok || target == net.ErrClosed
}

// HandshakeTimeoutError is returned if the handshake didn't complete within
// the configured handshake timeout.
type HandshakeTimeoutError struct{}

func (HandshakeTimeoutError) Error() string { return "timeout: handshake did not complete in time" }
func (HandshakeTimeoutError) Timeout() bool { return true }
func (e HandshakeTimeoutError) Is(target error) bool {
	_, ok := target.(HandshakeTimeoutError)
	return ok || target == net.ErrClosed
}
