package wire

import "github.com/minq-project/minq/internal/protocol"

// FrameType identifies a QUIC frame's wire type. Values match RFC 9000
// section 19 exactly so a FrameType converts directly to its leading byte
// for every non-STREAM frame.
type FrameType uint64

const (
	PaddingFrameType                    FrameType = 0x0
	PingFrameType                       FrameType = 0x1
	AckFrameType                        FrameType = 0x2
	AckECNFrameType                     FrameType = 0x3
	ResetStreamFrameType                FrameType = 0x4
	StopSendingFrameType                FrameType = 0x5
	CryptoFrameType                     FrameType = 0x6
	NewTokenFrameType                   FrameType = 0x7
	MaxDataFrameType                    FrameType = 0x10
	MaxStreamDataFrameType              FrameType = 0x11
	MaxStreamsBidiFrameType             FrameType = 0x12
	MaxStreamsUniFrameType              FrameType = 0x13
	DataBlockedFrameType                FrameType = 0x14
	StreamDataBlockedFrameType          FrameType = 0x15
	StreamsBlockedBidiFrameType         FrameType = 0x16
	StreamsBlockedUniFrameType          FrameType = 0x17
	NewConnectionIDFrameType            FrameType = 0x18
	RetireConnectionIDFrameType         FrameType = 0x19
	PathChallengeFrameType              FrameType = 0x1a
	PathResponseFrameType               FrameType = 0x1b
	ConnectionCloseTransportFrameType   FrameType = 0x1c
	ConnectionCloseApplicationFrameType FrameType = 0x1d
	HandshakeDoneFrameType              FrameType = 0x1e
)

// NewFrameType maps a wire varint value onto a FrameType, reporting whether
// it's one this endpoint understands.
func NewFrameType(typ uint64) (FrameType, bool) {
	if typ&^0x7 == 0x8 {
		return FrameType(typ), true
	}
	switch FrameType(typ) {
	case PaddingFrameType, PingFrameType, AckFrameType, AckECNFrameType,
		ResetStreamFrameType, StopSendingFrameType, CryptoFrameType, NewTokenFrameType,
		MaxDataFrameType, MaxStreamDataFrameType, MaxStreamsBidiFrameType, MaxStreamsUniFrameType,
		DataBlockedFrameType, StreamDataBlockedFrameType, StreamsBlockedBidiFrameType, StreamsBlockedUniFrameType,
		NewConnectionIDFrameType, RetireConnectionIDFrameType, PathChallengeFrameType, PathResponseFrameType,
		ConnectionCloseTransportFrameType, ConnectionCloseApplicationFrameType, HandshakeDoneFrameType:
		return FrameType(typ), true
	default:
		return 0, false
	}
}

// IsStreamFrameType reports whether t is one of the eight STREAM frame type
// values (0x08-0x0f, selecting OFF/LEN/FIN via the low three bits).
func (t FrameType) IsStreamFrameType() bool {
	return uint64(t)&^0x7 == 0x8
}

// isAllowedAtEncLevel implements the per-level frame policy RFC 9000
// section 12.4 requires decoders to enforce.
func (t FrameType) isAllowedAtEncLevel(encLevel protocol.EncryptionLevel) bool {
	switch encLevel {
	case protocol.EncryptionInitial, protocol.EncryptionHandshake:
		switch t {
		case CryptoFrameType, AckFrameType, AckECNFrameType, ConnectionCloseTransportFrameType, PingFrameType, PaddingFrameType:
			return true
		default:
			return false
		}
	case protocol.Encryption0RTT:
		switch t {
		case CryptoFrameType, AckFrameType, AckECNFrameType, ConnectionCloseTransportFrameType,
			ConnectionCloseApplicationFrameType, NewTokenFrameType, PathResponseFrameType,
			RetireConnectionIDFrameType, HandshakeDoneFrameType:
			return false
		default:
			return true
		}
	case protocol.Encryption1RTT:
		return true
	default:
		panic("unknown encryption level")
	}
}
