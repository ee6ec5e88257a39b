package ackhandler

import (
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils/linkedlist"
	"github.com/minq-project/minq/internal/wire"
)

// interval is an inclusive range of packet numbers known to have arrived.
type interval struct {
	Start, End protocol.PacketNumber
}

// receivedPacketHistory tracks which packet numbers have been received, as
// a sorted list of disjoint intervals, so it can hand the full set of gaps
// to the ACK frame writer without ever materializing a bitmap over the
// whole packet-number space.
type receivedPacketHistory struct {
	ranges linkedlist.List[interval]

	deletedBelow protocol.PacketNumber
}

func newReceivedPacketHistory() *receivedPacketHistory {
	return &receivedPacketHistory{}
}

// ReceivedPacket registers pn as received. It returns false if pn was
// already known, either because it falls in an existing range or because
// it's below a range that was deleted.
func (h *receivedPacketHistory) ReceivedPacket(pn protocol.PacketNumber) bool {
	if h.deletedBelow != 0 && pn < h.deletedBelow {
		return false
	}

	if h.ranges.Len() == 0 {
		h.ranges.PushBack(interval{Start: pn, End: pn})
		return true
	}

	for el := h.ranges.Front(); el != nil; el = el.Next() {
		r := el.Value

		if pn >= r.Start && pn <= r.End {
			return false // duplicate, already covered
		}

		if pn == r.End+1 {
			// extend this range at the end; it might now touch the next one
			if next := el.Next(); next != nil && pn+1 == next.Value.Start {
				el.Value = interval{Start: r.Start, End: next.Value.End}
				h.ranges.Remove(next)
			} else {
				el.Value = interval{Start: r.Start, End: pn}
			}
			h.bound()
			return true
		}

		if pn == r.Start-1 {
			el.Value = interval{Start: pn, End: r.End}
			h.bound()
			return true
		}

		if pn < r.Start-1 {
			h.ranges.InsertBefore(interval{Start: pn, End: pn}, el)
			h.bound()
			return true
		}
	}

	// pn is larger than every range seen so far
	h.ranges.PushBack(interval{Start: pn, End: pn})
	h.bound()
	return true
}

// bound drops the oldest ranges once there are more than
// protocol.MaxNumAckRanges, bounding both memory and ACK frame size.
func (h *receivedPacketHistory) bound() {
	for h.ranges.Len() > protocol.MaxNumAckRanges {
		h.ranges.Remove(h.ranges.Front())
	}
}

// DeleteBelow removes all knowledge of packet numbers smaller than pn.
func (h *receivedPacketHistory) DeleteBelow(pn protocol.PacketNumber) {
	if pn > h.deletedBelow {
		h.deletedBelow = pn
	}
	var next *linkedlist.Element[interval]
	for el := h.ranges.Front(); el != nil; el = next {
		next = el.Next()
		r := el.Value
		switch {
		case r.End < pn:
			h.ranges.Remove(el)
		case r.Start < pn:
			el.Value = interval{Start: pn, End: r.End}
		}
	}
}

// AppendAckRanges appends this history's ranges, from the highest packet
// number to the lowest, to ackRanges and returns the result.
func (h *receivedPacketHistory) AppendAckRanges(ackRanges []wire.AckRange) []wire.AckRange {
	for el := h.ranges.Back(); el != nil; el = el.Prev() {
		ackRanges = append(ackRanges, wire.AckRange{Smallest: el.Value.Start, Largest: el.Value.End})
	}
	return ackRanges
}

// GetHighestAckRange returns the range with the largest packet numbers, or
// the zero value if the history is empty.
func (h *receivedPacketHistory) GetHighestAckRange() wire.AckRange {
	if h.ranges.Len() == 0 {
		return wire.AckRange{}
	}
	back := h.ranges.Back().Value
	return wire.AckRange{Smallest: back.Start, Largest: back.End}
}

// IsPotentiallyDuplicate reports whether pn might already have been
// received: either it falls inside a range we're still tracking, or it's
// old enough that it falls below a range we've since forgotten about.
func (h *receivedPacketHistory) IsPotentiallyDuplicate(pn protocol.PacketNumber) bool {
	if h.deletedBelow != 0 && pn < h.deletedBelow {
		return true
	}
	for el := h.ranges.Front(); el != nil; el = el.Next() {
		if pn >= el.Value.Start && pn <= el.Value.End {
			return true
		}
		if pn < el.Value.Start {
			return false
		}
	}
	return false
}
