package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
	"github.com/minq-project/minq/quicvarint"
)

// ErrInvalidReservedBits is returned when a header's reserved bits, which
// must be unprotected to all-zero, are not.
var ErrInvalidReservedBits = errors.New("invalid reserved bits")

// ErrUnsupportedVersion is returned when a long header names a version this
// endpoint doesn't speak.
var ErrUnsupportedVersion = errors.New("unsupported version")

var errInvalidRetirePriorTo = errors.New("NEW_CONNECTION_ID: retire_prior_to is greater than sequence_number")
var errInvalidConnectionIDLen = errors.New("NEW_CONNECTION_ID: invalid connection ID length")

// IsLongHeader reports whether the first byte of a packet belongs to a long
// header (Initial, 0-RTT or Handshake).
func IsLongHeader(firstByte byte) bool { return firstByte&0x80 > 0 }

// Header is the long-header packet prefix, parsed up to (but not including)
// the packet number, which requires header protection removal first.
type Header struct {
	typeByte byte

	Type    protocol.PacketType
	Version protocol.Version

	DestConnectionID protocol.ConnectionID
	SrcConnectionID  protocol.ConnectionID

	Token []byte

	Length protocol.ByteCount

	parsedLen protocol.ByteCount
}

// ParseLongHeaderPacket parses a long header packet and, using its Length
// field, slices the datagram into this packet's bytes and anything coalesced
// after it.
func ParseLongHeaderPacket(data []byte) (*Header, []byte, []byte, error) {
	hdr, n, err := parseLongHeader(data)
	if err != nil {
		return hdr, nil, nil, err
	}
	if protocol.ByteCount(len(data)) < n+hdr.Length {
		return nil, nil, nil, fmt.Errorf("packet length (%d bytes) is smaller than the expected length (%d bytes)", len(data)-int(n), hdr.Length)
	}
	packetLen := int(n + hdr.Length)
	return hdr, data[:packetLen], data[packetLen:], nil
}

func parseLongHeader(data []byte) (*Header, protocol.ByteCount, error) {
	if len(data) < 6 {
		return nil, 0, io.EOF
	}
	h := &Header{typeByte: data[0]}
	pos := 1
	h.Version = protocol.Version(utils.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4

	destLen := int(data[pos])
	pos++
	if len(data) < pos+destLen {
		return nil, 0, io.EOF
	}
	h.DestConnectionID = protocol.ConnectionID(data[pos : pos+destLen])
	pos += destLen

	if len(data) < pos+1 {
		return nil, 0, io.EOF
	}
	srcLen := int(data[pos])
	pos++
	if len(data) < pos+srcLen {
		return nil, 0, io.EOF
	}
	h.SrcConnectionID = protocol.ConnectionID(data[pos : pos+srcLen])
	pos += srcLen

	if !protocol.IsSupported(h.Version) {
		return h, 0, ErrUnsupportedVersion
	}

	switch (h.typeByte & 0x30) >> 4 {
	case 0x0:
		h.Type = protocol.PacketTypeInitial
	case 0x1:
		h.Type = protocol.PacketType0RTT
	case 0x2:
		h.Type = protocol.PacketTypeHandshake
	default:
		return nil, 0, fmt.Errorf("unsupported long header packet type byte %#x", h.typeByte)
	}

	if h.Type == protocol.PacketTypeInitial {
		tokenLen, n, err := quicvarint.Parse(data[pos:])
		if err != nil {
			return nil, 0, io.EOF
		}
		pos += n
		if len(data) < pos+int(tokenLen) {
			return nil, 0, io.EOF
		}
		h.Token = data[pos : pos+int(tokenLen)]
		pos += int(tokenLen)
	}

	length, n, err := quicvarint.Parse(data[pos:])
	if err != nil {
		return nil, 0, io.EOF
	}
	pos += n
	h.Length = protocol.ByteCount(length)
	h.parsedLen = protocol.ByteCount(pos)
	return h, h.parsedLen, nil
}

// ParsedLen returns the number of bytes consumed while parsing the
// version-independent header, i.e. up to (not including) the packet number.
func (h *Header) ParsedLen() protocol.ByteCount { return h.parsedLen }

// EncryptionLevel returns the epoch this header's packet type belongs to.
func (h *Header) EncryptionLevel() protocol.EncryptionLevel {
	switch h.Type {
	case protocol.PacketTypeInitial:
		return protocol.EncryptionInitial
	case protocol.PacketTypeHandshake:
		return protocol.EncryptionHandshake
	case protocol.PacketType0RTT:
		return protocol.Encryption0RTT
	default:
		return protocol.Encryption1RTT
	}
}

// AppendLongHeader writes this header's bytes (everything up to the packet
// number) to b, except the Length field, and encodes pnLen, the size of the
// soon-to-follow truncated packet number, in the first byte. The caller
// appends the Length field itself.
func AppendLongHeader(b []byte, typ protocol.PacketType, version protocol.Version, destConnID, srcConnID protocol.ConnectionID, token []byte, pnLen protocol.PacketNumberLen) []byte {
	var typeBits byte
	switch typ {
	case protocol.PacketTypeInitial:
		typeBits = 0x0
	case protocol.PacketType0RTT:
		typeBits = 0x1
	case protocol.PacketTypeHandshake:
		typeBits = 0x2
	}
	firstByte := byte(0xc0) | typeBits<<4 | byte(pnLen-1)
	b = append(b, firstByte)
	b = utils.BigEndian.AppendUint32(b, uint32(version))
	b = append(b, byte(destConnID.Len()))
	b = append(b, destConnID.Bytes()...)
	b = append(b, byte(srcConnID.Len()))
	b = append(b, srcConnID.Bytes()...)
	if typ == protocol.PacketTypeInitial {
		b = quicvarint.Append(b, uint64(len(token)))
		b = append(b, token...)
	}
	return b
}
