package wire

import (
	"bytes"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// RetireConnectionIDFrame tells the peer it may forget the connection ID
// with the given sequence number.
type RetireConnectionIDFrame struct {
	SequenceNumber uint64
}

func parseRetireConnectionIDFrame(r *bytes.Reader, _ protocol.Version) (*RetireConnectionIDFrame, error) {
	seq, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	return &RetireConnectionIDFrame{SequenceNumber: seq}, nil
}

func (f *RetireConnectionIDFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(RetireConnectionIDFrameType))
	return quicvarint.Append(b, f.SequenceNumber), nil
}

func (f *RetireConnectionIDFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(f.SequenceNumber))
}
