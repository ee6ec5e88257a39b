package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/qerr"
	"github.com/minq-project/minq/quicvarint"
)

// FrameParser decodes the frames carried in a packet's decrypted payload,
// one at a time, enforcing the per-encryption-level frame policy (spec
// §4.7) as it goes.
type FrameParser struct {
	ackDelayExponent uint8
}

// NewFrameParser creates a parser for the given wire version.
func NewFrameParser(_ protocol.Version) FrameParser {
	return FrameParser{ackDelayExponent: protocol.DefaultAckDelayExponent}
}

// SetAckDelayExponent records the ack_delay_exponent transport parameter
// the peer advertised, used to scale ACK Delay fields in 1-RTT packets.
func (p *FrameParser) SetAckDelayExponent(exp uint8) {
	p.ackDelayExponent = exp
}

// ParseNext decodes the next frame from r, or returns io.EOF once only
// PADDING remains (or r is exhausted).
func (p FrameParser) ParseNext(r *bytes.Reader, encLevel protocol.EncryptionLevel) (Frame, error) {
	for {
		typeByte, err := r.ReadByte()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if typeByte == 0x0 { // PADDING, possibly repeated
			continue
		}
		if err := r.UnreadByte(); err != nil {
			return nil, err
		}
		rawType, err := quicvarint.Read(r)
		if err != nil {
			return nil, qerr.NewLocalTransportError(qerr.FrameEncodingError, err.Error())
		}
		typ, ok := NewFrameType(rawType)
		if !ok {
			return nil, qerr.NewLocalFrameError(qerr.FrameEncodingError, rawType, "unknown frame type")
		}
		if !typ.isAllowedAtEncLevel(encLevel) {
			return nil, qerr.NewLocalFrameError(qerr.FrameEncodingError, rawType,
				fmt.Sprintf("not allowed at encryption level %s", encLevel))
		}
		frame, err := p.parseFrame(r, typ)
		if err != nil {
			return nil, qerr.NewLocalFrameError(qerr.FrameEncodingError, rawType, err.Error())
		}
		return frame, nil
	}
}

func (p FrameParser) parseFrame(r *bytes.Reader, typ FrameType) (Frame, error) {
	if typ.IsStreamFrameType() {
		return parseStreamFrame(r, typ, protocol.Draft27)
	}
	switch typ {
	case PingFrameType:
		return &PingFrame{}, nil
	case AckFrameType, AckECNFrameType:
		f := GetAckFrame()
		f.Reset()
		if err := parseAckFrame(f, r, typ, p.ackDelayExponent, protocol.Draft27); err != nil {
			return nil, err
		}
		return f, nil
	case ResetStreamFrameType:
		return parseResetStreamFrame(r, protocol.Draft27)
	case StopSendingFrameType:
		return parseStopSendingFrame(r, protocol.Draft27)
	case CryptoFrameType:
		return parseCryptoFrame(r, protocol.Draft27)
	case NewTokenFrameType:
		return parseNewTokenFrame(r, protocol.Draft27)
	case MaxDataFrameType:
		return parseMaxDataFrame(r, protocol.Draft27)
	case MaxStreamDataFrameType:
		return parseMaxStreamDataFrame(r, protocol.Draft27)
	case MaxStreamsBidiFrameType, MaxStreamsUniFrameType:
		return parseMaxStreamsFrame(r, typ, protocol.Draft27)
	case DataBlockedFrameType:
		return parseDataBlockedFrame(r, protocol.Draft27)
	case StreamDataBlockedFrameType:
		return parseStreamDataBlockedFrame(r, protocol.Draft27)
	case StreamsBlockedBidiFrameType, StreamsBlockedUniFrameType:
		return parseStreamsBlockedFrame(r, typ, protocol.Draft27)
	case NewConnectionIDFrameType:
		return parseNewConnectionIDFrame(r, protocol.Draft27)
	case RetireConnectionIDFrameType:
		return parseRetireConnectionIDFrame(r, protocol.Draft27)
	case PathChallengeFrameType:
		return parsePathChallengeFrame(r, protocol.Draft27)
	case PathResponseFrameType:
		return parsePathResponseFrame(r, protocol.Draft27)
	case ConnectionCloseTransportFrameType, ConnectionCloseApplicationFrameType:
		return parseConnectionCloseFrame(r, typ, protocol.Draft27)
	case HandshakeDoneFrameType:
		return &HandshakeDoneFrame{}, nil
	default:
		return nil, fmt.Errorf("unhandled frame type %#x", uint64(typ))
	}
}
