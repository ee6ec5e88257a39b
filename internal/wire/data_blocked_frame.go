package wire

import (
	"bytes"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// DataBlockedFrame tells the peer the sender would have sent more data on
// the connection if its connection-level flow control limit allowed it.
type DataBlockedFrame struct {
	MaximumData protocol.ByteCount
}

func parseDataBlockedFrame(r *bytes.Reader, _ protocol.Version) (*DataBlockedFrame, error) {
	limit, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	return &DataBlockedFrame{MaximumData: protocol.ByteCount(limit)}, nil
}

func (f *DataBlockedFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(DataBlockedFrameType))
	return quicvarint.Append(b, uint64(f.MaximumData)), nil
}

func (f *DataBlockedFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.MaximumData)))
}
