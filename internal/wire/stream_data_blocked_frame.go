package wire

import (
	"bytes"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// StreamDataBlockedFrame tells the peer the sender would have sent more
// data on the stream if its per-stream flow control limit allowed it.
type StreamDataBlockedFrame struct {
	StreamID          protocol.StreamID
	MaximumStreamData protocol.ByteCount
}

func parseStreamDataBlockedFrame(r *bytes.Reader, _ protocol.Version) (*StreamDataBlockedFrame, error) {
	sid, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	limit, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	return &StreamDataBlockedFrame{StreamID: protocol.StreamID(sid), MaximumStreamData: protocol.ByteCount(limit)}, nil
}

func (f *StreamDataBlockedFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(StreamDataBlockedFrameType))
	b = quicvarint.Append(b, uint64(f.StreamID))
	return quicvarint.Append(b, uint64(f.MaximumStreamData)), nil
}

func (f *StreamDataBlockedFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.StreamID))+quicvarint.Len(uint64(f.MaximumStreamData)))
}
