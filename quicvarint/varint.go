// Package quicvarint implements the QUIC variable-length integer encoding
// defined in RFC 9000, section 16: values up to 62 bits, encoded in 1, 2, 4
// or 8 bytes, with the two high bits of the first byte selecting the length.
package quicvarint

import (
	"errors"
	"fmt"
	"io"
)

const (
	maxVarInt1 = 63
	maxVarInt2 = 16383
	maxVarInt4 = 1073741823
	maxVarInt8 = 4611686018427387903
)

// Min is the minimum value that can be represented as a QUIC varint.
const Min = 0

// Max is the maximum value that can be represented as a QUIC varint (62 bits
// set).
const Max = maxVarInt8

// Read reads a number in the QUIC varint format from r.
func Read(r io.ByteReader) (uint64, error) {
	firstByte, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	length := 1 << (firstByte >> 6)
	b := firstByte & 0x3f
	var val uint64 = uint64(b)
	for i := 1; i < length; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, io.ErrUnexpectedEOF
		}
		val = val<<8 + uint64(b)
	}
	return val, nil
}

// Parse reads a number in the QUIC varint format from b. It returns the
// number of bytes consumed.
func Parse(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, io.EOF
	}
	length := 1 << (b[0] >> 6)
	if len(b) < length {
		return 0, 0, io.ErrUnexpectedEOF
	}
	val := uint64(b[0] & 0x3f)
	for i := 1; i < length; i++ {
		val = val<<8 + uint64(b[i])
	}
	return val, length, nil
}

// Len determines the number of bytes that will be needed to write the number
// val.
func Len(val uint64) int {
	if val <= maxVarInt1 {
		return 1
	}
	if val <= maxVarInt2 {
		return 2
	}
	if val <= maxVarInt4 {
		return 4
	}
	if val <= maxVarInt8 {
		return 8
	}
	// Don't fill in the error here. See https://github.com/golang/go/issues/34201.
	panic(fmt.Errorf("value doesn't fit into 62 bits: %d", val))
}

// Append appends the QUIC varint encoding of val to b.
func Append(b []byte, val uint64) []byte {
	switch Len(val) {
	case 1:
		return append(b, uint8(val))
	case 2:
		return appendByte2(b, val)
	case 4:
		return appendByte4(b, val)
	case 8:
		return appendByte8(b, val)
	default:
		panic("unexpected length")
	}
}

func appendByte2(b []byte, val uint64) []byte {
	return append(b, uint8(val>>8)^0x40, uint8(val))
}

func appendByte4(b []byte, val uint64) []byte {
	return append(b, uint8(val>>24)^0x80, uint8(val>>16), uint8(val>>8), uint8(val))
}

func appendByte8(b []byte, val uint64) []byte {
	return append(b,
		uint8(val>>56)^0xc0, uint8(val>>48), uint8(val>>40), uint8(val>>32),
		uint8(val>>24), uint8(val>>16), uint8(val>>8), uint8(val),
	)
}

// AppendWithLen appends the QUIC varint encoding of val to b, using exactly
// length bytes (1, 2, 4 or 8). It panics if val doesn't fit into length
// bytes, or if length isn't a valid varint length.
func AppendWithLen(b []byte, val uint64, length int) []byte {
	var lengthBits byte
	switch length {
	case 1:
		lengthBits = 0b00
	case 2:
		lengthBits = 0b01
	case 4:
		lengthBits = 0b10
	case 8:
		lengthBits = 0b11
	default:
		panic(errors.New("invalid varint length"))
	}
	if Len(val) > length {
		panic(fmt.Errorf("cannot encode %d in %d bytes", val, length))
	}
	start := len(b)
	for i := 0; i < length; i++ {
		b = append(b, 0)
	}
	for i := length - 1; i >= 0; i-- {
		b[start+i] = uint8(val)
		val >>= 8
	}
	b[start] = b[start]&0x3f | lengthBits<<6
	return b
}
