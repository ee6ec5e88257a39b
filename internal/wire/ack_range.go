package wire

import "github.com/minq-project/minq/internal/protocol"

// AckRange is one contiguous range of acknowledged packet numbers, as
// carried in an ACK frame.
type AckRange struct {
	Smallest protocol.PacketNumber
	Largest  protocol.PacketNumber
}

// Len returns the number of packet numbers covered by the range.
func (r AckRange) Len() protocol.PacketNumber {
	return r.Largest - r.Smallest + 1
}
