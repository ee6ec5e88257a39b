package wire

import (
	"bytes"
	"io"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// CryptoFrame carries a slice of the handshake's ordered byte stream, one
// per encryption level.
type CryptoFrame struct {
	Offset protocol.ByteCount
	Data   []byte
}

func parseCryptoFrame(r *bytes.Reader, _ protocol.Version) (*CryptoFrame, error) {
	offset, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	length, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	if length > uint64(protocol.MaxByteCount) {
		return nil, io.EOF
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return &CryptoFrame{Offset: protocol.ByteCount(offset), Data: data}, nil
}

func (f *CryptoFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(CryptoFrameType))
	b = quicvarint.Append(b, uint64(f.Offset))
	b = quicvarint.Append(b, uint64(len(f.Data)))
	return append(b, f.Data...), nil
}

func (f *CryptoFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.Offset))+quicvarint.Len(uint64(len(f.Data)))+len(f.Data))
}

// MaxDataLen returns the maximum number of data bytes that fit into a
// CRYPTO frame starting at f.Offset with size bytes available.
func (f *CryptoFrame) MaxDataLen(size protocol.ByteCount) protocol.ByteCount {
	headerLen := protocol.ByteCount(1 + quicvarint.Len(uint64(f.Offset)))
	if headerLen+2 > size { // room for at least a 1-byte length varint and 1 data byte
		return 0
	}
	maxLen := size - headerLen
	lenLen := protocol.ByteCount(quicvarint.Len(uint64(maxLen)))
	if maxLen < lenLen {
		return 0
	}
	return maxLen - lenLen
}
