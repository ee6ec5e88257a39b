package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
)

// ShortHeader is the 1-RTT packet header: a single type byte, the
// destination connection ID (whose length the endpoint already knows from
// its own configuration) and a truncated packet number.
type ShortHeader struct {
	DestConnectionID protocol.ConnectionID
	PacketNumber     protocol.PacketNumber
	PacketNumberLen  protocol.PacketNumberLen
	KeyPhase         protocol.KeyPhaseBit
}

// ParseShortHeader parses a short header packet whose header protection has
// already been removed. connIDLen is the length this endpoint configured
// for its own connection IDs.
func ParseShortHeader(data []byte, connIDLen int) (*ShortHeader, error) {
	if len(data) == 0 {
		return nil, io.EOF
	}
	if data[0]&0x80 > 0 {
		return nil, errors.New("not a short header packet")
	}
	if data[0]&0x40 == 0 {
		return nil, errors.New("not a QUIC packet")
	}
	pnLen := protocol.PacketNumberLen(data[0]&0b11) + 1
	if len(data) < 1+connIDLen+int(pnLen) {
		return nil, io.EOF
	}
	destConnID := protocol.ConnectionID(data[1 : 1+connIDLen])

	pos := 1 + connIDLen
	var pn protocol.PacketNumber
	switch pnLen {
	case protocol.PacketNumberLen1:
		pn = protocol.PacketNumber(data[pos])
	case protocol.PacketNumberLen2:
		pn = protocol.PacketNumber(utils.BigEndian.Uint16(data[pos : pos+2]))
	case protocol.PacketNumberLen3:
		pn = protocol.PacketNumber(uint32(data[pos])<<16 | uint32(data[pos+1])<<8 | uint32(data[pos+2]))
	case protocol.PacketNumberLen4:
		pn = protocol.PacketNumber(utils.BigEndian.Uint32(data[pos : pos+4]))
	default:
		return nil, fmt.Errorf("invalid packet number length: %d", pnLen)
	}
	kp := protocol.KeyPhaseBitFromBit(data[0]&0b100 > 0)

	var err error
	if data[0]&0x18 != 0 {
		err = ErrInvalidReservedBits
	}
	return &ShortHeader{
		DestConnectionID: destConnID,
		PacketNumber:     pn,
		PacketNumberLen:  pnLen,
		KeyPhase:         kp,
	}, err
}

// Len returns the number of bytes this header occupies on the wire.
func (h *ShortHeader) Len() protocol.ByteCount {
	return 1 + protocol.ByteCount(h.DestConnectionID.Len()) + protocol.ByteCount(h.PacketNumberLen)
}

// AppendShortHeader writes the short header's bytes, up to and including the
// truncated packet number.
func AppendShortHeader(b []byte, destConnID protocol.ConnectionID, pn protocol.PacketNumber, pnLen protocol.PacketNumberLen, kp protocol.KeyPhaseBit) []byte {
	firstByte := byte(0x40) | byte(pnLen-1)
	if kp.Bit() {
		firstByte |= 0b100
	}
	b = append(b, firstByte)
	b = append(b, destConnID.Bytes()...)
	return appendPacketNumber(b, pn, pnLen)
}

func appendPacketNumber(b []byte, pn protocol.PacketNumber, pnLen protocol.PacketNumberLen) []byte {
	switch pnLen {
	case protocol.PacketNumberLen1:
		return append(b, byte(pn))
	case protocol.PacketNumberLen2:
		return utils.BigEndian.AppendUint16(b, uint16(pn))
	case protocol.PacketNumberLen3:
		return append(b, byte(pn>>16), byte(pn>>8), byte(pn))
	case protocol.PacketNumberLen4:
		return utils.BigEndian.AppendUint32(b, uint32(pn))
	default:
		panic("invalid packet number length")
	}
}

// Log logs the short header at debug level.
func (h *ShortHeader) Log(logger utils.Logger) {
	logger.Debugf("\tShort Header{DestConnectionID: %s, PacketNumber: %d, PacketNumberLen: %d, KeyPhase: %s}", h.DestConnectionID, h.PacketNumber, h.PacketNumberLen, h.KeyPhase)
}
