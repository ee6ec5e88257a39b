package ackhandler

import (
	"iter"

	"github.com/minq-project/minq/internal/monotime"
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils/linkedlist"
)

type lostPacketEntry struct {
	packetNumber protocol.PacketNumber
	lostAt       monotime.Time
}

// lostPacketTracker remembers the packets this endpoint has declared lost,
// so a late-arriving ACK for one of them can be recognized as a spurious
// loss detection. It keeps at most maxLen entries, evicting the oldest
// (by declaration order, not by packet number) once that bound is hit.
type lostPacketTracker struct {
	maxLen  int
	entries linkedlist.List[lostPacketEntry]
	byPN    map[protocol.PacketNumber]*linkedlist.Element[lostPacketEntry]
}

func newLostPacketTracker(maxLen int) *lostPacketTracker {
	return &lostPacketTracker{
		maxLen: maxLen,
		byPN:   make(map[protocol.PacketNumber]*linkedlist.Element[lostPacketEntry]),
	}
}

// Add records pn as lost at when, evicting the oldest tracked packet if
// this would grow the tracker past its capacity.
func (t *lostPacketTracker) Add(pn protocol.PacketNumber, when monotime.Time) {
	if _, ok := t.byPN[pn]; ok {
		return
	}
	if t.entries.Len() >= t.maxLen {
		oldest := t.entries.Front()
		delete(t.byPN, oldest.Value.packetNumber)
		t.entries.Remove(oldest)
	}
	t.byPN[pn] = t.entries.PushBack(lostPacketEntry{packetNumber: pn, lostAt: when})
}

// Delete stops tracking pn, if it was being tracked at all.
func (t *lostPacketTracker) Delete(pn protocol.PacketNumber) {
	el, ok := t.byPN[pn]
	if !ok {
		return
	}
	t.entries.Remove(el)
	delete(t.byPN, pn)
}

// DeleteBefore stops tracking every packet declared lost strictly before
// cutoff.
func (t *lostPacketTracker) DeleteBefore(cutoff monotime.Time) {
	var next *linkedlist.Element[lostPacketEntry]
	for el := t.entries.Front(); el != nil; el = next {
		next = el.Next()
		if el.Value.lostAt.Before(cutoff) {
			delete(t.byPN, el.Value.packetNumber)
			t.entries.Remove(el)
		}
	}
}

// All iterates the tracked packets in the order they were declared lost.
func (t *lostPacketTracker) All() iter.Seq2[protocol.PacketNumber, monotime.Time] {
	return func(yield func(protocol.PacketNumber, monotime.Time) bool) {
		for el := t.entries.Front(); el != nil; el = el.Next() {
			if !yield(el.Value.packetNumber, el.Value.lostAt) {
				return
			}
		}
	}
}
