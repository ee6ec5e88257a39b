package wire

import (
	"bytes"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// MaxDataFrame raises the connection-level flow control limit.
type MaxDataFrame struct {
	MaximumData protocol.ByteCount
}

func parseMaxDataFrame(r *bytes.Reader, _ protocol.Version) (*MaxDataFrame, error) {
	limit, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	return &MaxDataFrame{MaximumData: protocol.ByteCount(limit)}, nil
}

func (f *MaxDataFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(MaxDataFrameType))
	return quicvarint.Append(b, uint64(f.MaximumData)), nil
}

func (f *MaxDataFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.MaximumData)))
}
