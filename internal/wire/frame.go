// Package wire implements the QUIC frame and packet header codec: bit-exact
// encoding and decoding of every frame type legal in a draft-27 packet,
// plus the long- and short-header parsers that sit in front of it.
package wire

import "github.com/minq-project/minq/internal/protocol"

// A Frame is anything that can be serialized onto a packet payload and knows
// its own encoded length. Every concrete frame type below implements this.
type Frame interface {
	// Append appends the wire encoding of the frame to b and returns the
	// extended slice.
	Append(b []byte, v protocol.Version) ([]byte, error)
	// Length returns the number of bytes Append would add.
	Length(v protocol.Version) protocol.ByteCount
}
