// Package qerr defines the two error axes the connection core signals to its
// peer: transport errors (CONNECTION_CLOSE, frame type 0x1c) and application
// errors (CONNECTION_CLOSE, frame type 0x1d / RESET_STREAM / STOP_SENDING).
package qerr

import "fmt"

// TransportErrorCode is a QUIC transport error code.
type TransportErrorCode uint64

// The transport error codes defined by the QUIC transport specification.
const (
	NoError                 TransportErrorCode = 0x0
	InternalError           TransportErrorCode = 0x1
	ConnectionRefused       TransportErrorCode = 0x2
	FlowControlError        TransportErrorCode = 0x3
	StreamLimitError        TransportErrorCode = 0x4
	StreamStateError        TransportErrorCode = 0x5
	FinalSizeError          TransportErrorCode = 0x6
	FrameEncodingError      TransportErrorCode = 0x7
	TransportParameterError TransportErrorCode = 0x8
	ConnectionIDLimitError  TransportErrorCode = 0x9
	ProtocolViolation       TransportErrorCode = 0xa
	InvalidToken            TransportErrorCode = 0xb
	ApplicationErrorCode_   TransportErrorCode = 0xc // "APPLICATION_ERROR" as a transport-level code
	CryptoBufferExceeded    TransportErrorCode = 0xd
	KeyUpdateError          TransportErrorCode = 0xe
	AEADLimitReached        TransportErrorCode = 0xf
)

// cryptoErrorBase is the offset added to a TLS alert to form a transport
// error code in the 0x100-0x1ff range, per RFC 9000 section 20.
const cryptoErrorBase = 0x100

// NewCryptoError creates the transport error code corresponding to a TLS
// alert, as sent by the handshake driver's send_alert callback.
func NewCryptoError(tlsAlert uint8) TransportErrorCode {
	return cryptoErrorBase + TransportErrorCode(tlsAlert)
}

func (c TransportErrorCode) isCryptoError() bool {
	return c >= cryptoErrorBase && c < cryptoErrorBase+0x100
}

func (c TransportErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalSizeError:
		return "FINAL_SIZE_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case InvalidToken:
		return "INVALID_TOKEN"
	case CryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case KeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case AEADLimitReached:
		return "AEAD_LIMIT_REACHED"
	default:
		if c.isCryptoError() {
			return fmt.Sprintf("CRYPTO_ERROR (tls alert %d)", uint8(c-cryptoErrorBase))
		}
		return fmt.Sprintf("unknown error code: %#x", uint64(c))
	}
}

// ApplicationErrorCode is an application-defined error code, carried in
// RESET_STREAM, STOP_SENDING and application CONNECTION_CLOSE frames.
type ApplicationErrorCode uint64

// StreamErrorCode is an alias kept distinct for readability at call sites
// that specifically abort a stream, rather than the whole connection.
type StreamErrorCode = ApplicationErrorCode
