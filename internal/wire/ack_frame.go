package wire

import (
	"bytes"
	"errors"
	"time"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

var errInvalidAckRanges = errors.New("AckFrame: ACK frame contains invalid ACK ranges")

// AckFrame acknowledges receipt of packets, optionally with ECN counts.
// AckRanges is ordered from largest to smallest, matching the wire
// encoding.
type AckFrame struct {
	AckRanges []AckRange
	DelayTime time.Duration

	ECT0, ECT1, ECNCE uint64
}

// HasMissingRanges reports whether there are gaps in the acknowledged
// ranges, i.e. whether this ACK covers more than one contiguous block.
func (f *AckFrame) HasMissingRanges() bool { return len(f.AckRanges) > 1 }

// LargestAcked returns the largest packet number acknowledged by this frame.
func (f *AckFrame) LargestAcked() protocol.PacketNumber {
	if len(f.AckRanges) == 0 {
		return protocol.InvalidPacketNumber
	}
	return f.AckRanges[0].Largest
}

// LowestAcked returns the smallest packet number acknowledged by this frame.
func (f *AckFrame) LowestAcked() protocol.PacketNumber {
	if len(f.AckRanges) == 0 {
		return protocol.InvalidPacketNumber
	}
	return f.AckRanges[len(f.AckRanges)-1].Smallest
}

// AcksPacket reports whether this frame acknowledges pn.
func (f *AckFrame) AcksPacket(pn protocol.PacketNumber) bool {
	if pn < f.LowestAcked() || pn > f.LargestAcked() {
		return false
	}
	for _, r := range f.AckRanges {
		if pn > r.Largest {
			return false
		}
		if pn >= r.Smallest {
			return true
		}
	}
	return false
}

// Reset clears the frame's ranges so it can be returned to the pool.
func (f *AckFrame) Reset() {
	f.AckRanges = f.AckRanges[:0]
	f.DelayTime = 0
	f.ECT0, f.ECT1, f.ECNCE = 0, 0, 0
}

func (f *AckFrame) validateAckRanges() bool {
	if len(f.AckRanges) == 0 {
		return false
	}
	if f.AckRanges[0].Largest < f.AckRanges[0].Smallest {
		return false
	}
	for i, r := range f.AckRanges {
		if r.Smallest > r.Largest {
			return false
		}
		if i == 0 {
			continue
		}
		if r.Largest+1 >= f.AckRanges[i-1].Smallest {
			return false
		}
	}
	return true
}

func parseAckFrame(f *AckFrame, r *bytes.Reader, typ FrameType, ackDelayExponent uint8, _ protocol.Version) error {
	ecn := typ == AckECNFrameType

	la, err := quicvarint.Read(r)
	if err != nil {
		return err
	}
	largestAcked := protocol.PacketNumber(la)
	delay, err := quicvarint.Read(r)
	if err != nil {
		return err
	}
	delayTime := time.Duration(delay*(1<<ackDelayExponent)) * time.Microsecond
	if delayTime < 0 {
		// overflowed
		delayTime = utilsMaxDuration
	}
	f.DelayTime = delayTime

	numBlocks, err := quicvarint.Read(r)
	if err != nil {
		return err
	}

	firstBlock, err := quicvarint.Read(r)
	if err != nil {
		return err
	}
	if firstBlock > uint64(largestAcked) {
		return errInvalidAckRanges
	}
	smallest := largestAcked - protocol.PacketNumber(firstBlock)
	f.AckRanges = append(f.AckRanges, AckRange{Smallest: smallest, Largest: largestAcked})

	for i := uint64(0); i < numBlocks; i++ {
		gap, err := quicvarint.Read(r)
		if err != nil {
			return err
		}
		prevSmallest := f.AckRanges[len(f.AckRanges)-1].Smallest
		largest := prevSmallest - protocol.PacketNumber(gap) - 2
		block, err := quicvarint.Read(r)
		if err != nil {
			return err
		}
		if block > uint64(largest) {
			return errInvalidAckRanges
		}
		smallest := largest - protocol.PacketNumber(block)
		f.AckRanges = append(f.AckRanges, AckRange{Smallest: smallest, Largest: largest})
	}

	if ecn {
		ect0, err := quicvarint.Read(r)
		if err != nil {
			return err
		}
		ect1, err := quicvarint.Read(r)
		if err != nil {
			return err
		}
		ecnce, err := quicvarint.Read(r)
		if err != nil {
			return err
		}
		f.ECT0, f.ECT1, f.ECNCE = ect0, ect1, ecnce
	}

	if !f.validateAckRanges() {
		return errInvalidAckRanges
	}
	return nil
}

func (f *AckFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	hasECN := f.ECT0 > 0 || f.ECT1 > 0 || f.ECNCE > 0
	if hasECN {
		b = append(b, byte(AckECNFrameType))
	} else {
		b = append(b, byte(AckFrameType))
	}
	b = quicvarint.Append(b, uint64(f.LargestAcked()))
	b = quicvarint.Append(b, encodeAckDelay(f.DelayTime))
	b = quicvarint.Append(b, uint64(len(f.AckRanges)-1))

	for i, r := range f.AckRanges {
		if i == 0 {
			b = quicvarint.Append(b, uint64(r.Largest-r.Smallest))
			continue
		}
		prev := f.AckRanges[i-1]
		gap := prev.Smallest - r.Largest - 2
		b = quicvarint.Append(b, uint64(gap))
		b = quicvarint.Append(b, uint64(r.Largest-r.Smallest))
	}

	if hasECN {
		b = quicvarint.Append(b, f.ECT0)
		b = quicvarint.Append(b, f.ECT1)
		b = quicvarint.Append(b, f.ECNCE)
	}
	return b, nil
}

func encodeAckDelay(d time.Duration) uint64 {
	return uint64(d.Microseconds()) >> protocol.DefaultAckDelayExponent
}

func (f *AckFrame) Length(_ protocol.Version) protocol.ByteCount {
	hasECN := f.ECT0 > 0 || f.ECT1 > 0 || f.ECNCE > 0
	length := 1 + quicvarint.Len(uint64(f.LargestAcked())) + quicvarint.Len(encodeAckDelay(f.DelayTime)) + quicvarint.Len(uint64(len(f.AckRanges)-1))
	for i, r := range f.AckRanges {
		if i == 0 {
			length += quicvarint.Len(uint64(r.Largest - r.Smallest))
			continue
		}
		prev := f.AckRanges[i-1]
		length += quicvarint.Len(uint64(prev.Smallest - r.Largest - 2))
		length += quicvarint.Len(uint64(r.Largest - r.Smallest))
	}
	if hasECN {
		length += quicvarint.Len(f.ECT0) + quicvarint.Len(f.ECT1) + quicvarint.Len(f.ECNCE)
	}
	return protocol.ByteCount(length)
}

const utilsMaxDuration = 1<<63 - 1
