package quic

import (
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"
	"github.com/minq-project/minq/internal/utils/tree"
)

// frameSorter reassembles the out-of-order, possibly overlapping payloads
// of STREAM and CRYPTO frames into a contiguous byte stream. Overlapping
// bytes are assumed to be identical to data already queued and are not
// compared; only the later-seen bytes beyond what's already stored are
// kept.
type frameSorter struct {
	queue     map[protocol.ByteCount][]byte // interval start -> data
	intervals *tree.Btree                   // of *utils.ByteInterval, merged and disjoint
	readPos   protocol.ByteCount
}

func newFrameSorter() *frameSorter {
	return &frameSorter{
		queue:     make(map[protocol.ByteCount][]byte),
		intervals: tree.New(),
	}
}

// Push inserts data received at offset, merging it with anything already
// queued that it overlaps or touches. fin is accepted for call-site
// symmetry with the frame types that carry a FIN bit; final-offset
// bookkeeping is the caller's responsibility.
func (s *frameSorter) Push(data []byte, offset protocol.ByteCount, _ bool) error {
	if len(data) == 0 {
		return nil
	}
	start := offset
	end := offset + protocol.ByteCount(len(data)) - 1
	if end < s.readPos {
		return nil
	}
	if start < s.readPos {
		data = data[s.readPos-start:]
		start = s.readPos
	}

	merged := &utils.ByteInterval{Start: start, End: end}
	mergedData := data
	for {
		overlaps := s.intervals.Match(merged)
		if len(overlaps) == 0 {
			break
		}
		for _, v := range overlaps {
			iv := v.(*utils.ByteInterval)
			mergedData = mergeByteRanges(merged.Start, mergedData, iv.Start, s.queue[iv.Start])
			if iv.Start < merged.Start {
				merged.Start = iv.Start
			}
			if iv.End > merged.End {
				merged.End = iv.End
			}
			s.intervals.Delete(iv)
			delete(s.queue, iv.Start)
		}
	}
	s.intervals.Insert(merged)
	s.queue[merged.Start] = mergedData
	return nil
}

// mergeByteRanges combines two byte ranges sharing the same coordinate
// space into one contiguous slice starting at min(aStart, bStart).
func mergeByteRanges(aStart protocol.ByteCount, a []byte, bStart protocol.ByteCount, b []byte) []byte {
	start := aStart
	if bStart < start {
		start = bStart
	}
	aEnd := aStart + protocol.ByteCount(len(a))
	bEnd := bStart + protocol.ByteCount(len(b))
	end := aEnd
	if bEnd > end {
		end = bEnd
	}
	out := make([]byte, end-start)
	copy(out[aStart-start:], a)
	copy(out[bStart-start:], b)
	return out
}

// Pop returns the longest contiguous run of bytes starting at the current
// read position and advances past it. The second return value is false if
// the next byte hasn't arrived yet.
func (s *frameSorter) Pop() ([]byte, bool) {
	probe := &utils.ByteInterval{Start: s.readPos, End: s.readPos}
	matches := s.intervals.Match(probe)
	if len(matches) == 0 {
		return nil, false
	}
	iv := matches[0].(*utils.ByteInterval)
	data := s.queue[iv.Start]
	if iv.Start < s.readPos {
		data = data[s.readPos-iv.Start:]
	}
	s.intervals.Delete(iv)
	delete(s.queue, iv.Start)
	s.readPos += protocol.ByteCount(len(data))
	return data, true
}
