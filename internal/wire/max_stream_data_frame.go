package wire

import (
	"bytes"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// MaxStreamDataFrame raises the flow control limit for a single stream.
type MaxStreamDataFrame struct {
	StreamID          protocol.StreamID
	MaximumStreamData protocol.ByteCount
}

func parseMaxStreamDataFrame(r *bytes.Reader, _ protocol.Version) (*MaxStreamDataFrame, error) {
	sid, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	limit, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	return &MaxStreamDataFrame{StreamID: protocol.StreamID(sid), MaximumStreamData: protocol.ByteCount(limit)}, nil
}

func (f *MaxStreamDataFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(MaxStreamDataFrameType))
	b = quicvarint.Append(b, uint64(f.StreamID))
	return quicvarint.Append(b, uint64(f.MaximumStreamData)), nil
}

func (f *MaxStreamDataFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.StreamID))+quicvarint.Len(uint64(f.MaximumStreamData)))
}
