package wire

import (
	"bytes"
	"io"
	"sync"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// MinStreamFrameSize is the minimum size of a STREAM frame with a nonempty
// data field, once its header is accounted for: the shortest possible
// header (type byte + 1-byte stream ID) plus at least one data byte.
const MinStreamFrameSize protocol.ByteCount = 3

var streamFramePool = sync.Pool{
	New: func() any { return &StreamFrame{} },
}

// GetStreamFrame returns a StreamFrame from the pool, ready to be filled in
// by the receive path.
func GetStreamFrame() *StreamFrame {
	f := streamFramePool.Get().(*StreamFrame)
	f.fromPool = true
	return f
}

// StreamFrame carries a contiguous slice of one stream's byte stream.
// The OFF, LEN and FIN bits of the wire type byte are derived from whether
// Offset is nonzero, DataLenPresent, and Fin respectively.
type StreamFrame struct {
	StreamID       protocol.StreamID
	Offset         protocol.ByteCount
	Data           []byte
	Fin            bool
	DataLenPresent bool

	fromPool bool
}

func parseStreamFrame(r *bytes.Reader, typ FrameType, _ protocol.Version) (*StreamFrame, error) {
	hasOffset := typ&0b100 > 0
	hasLen := typ&0b10 > 0
	fin := typ&0b1 > 0

	sid, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	f := GetStreamFrame()
	f.StreamID = protocol.StreamID(sid)
	f.Fin = fin
	f.Offset = 0
	f.DataLenPresent = hasLen

	if hasOffset {
		offset, err := quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
		f.Offset = protocol.ByteCount(offset)
	}

	var dataLen uint64
	if hasLen {
		dataLen, err = quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
	} else {
		dataLen = uint64(r.Len())
	}
	if dataLen > uint64(protocol.MaxByteCount) {
		return nil, io.EOF
	}
	if dataLen == 0 {
		f.Data = nil
		return f, nil
	}
	f.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, f.Data); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return f, nil
}

func (f *StreamFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	typ := byte(0x8)
	if f.Fin {
		typ |= 0b1
	}
	if f.DataLenPresent {
		typ |= 0b10
	}
	if f.Offset != 0 {
		typ |= 0b100
	}
	b = append(b, typ)
	b = quicvarint.Append(b, uint64(f.StreamID))
	if f.Offset != 0 {
		b = quicvarint.Append(b, uint64(f.Offset))
	}
	if f.DataLenPresent {
		b = quicvarint.Append(b, uint64(len(f.Data)))
	}
	return append(b, f.Data...), nil
}

func (f *StreamFrame) Length(_ protocol.Version) protocol.ByteCount {
	length := 1 + quicvarint.Len(uint64(f.StreamID))
	if f.Offset != 0 {
		length += quicvarint.Len(uint64(f.Offset))
	}
	if f.DataLenPresent {
		length += quicvarint.Len(uint64(len(f.Data)))
	}
	return protocol.ByteCount(length) + protocol.ByteCount(len(f.Data))
}

// DataLen returns the number of payload bytes in this frame.
func (f *StreamFrame) DataLen() protocol.ByteCount { return protocol.ByteCount(len(f.Data)) }

// MaxDataLen returns the maximum data length that fits into this frame given
// maxSize available bytes, or 0 if even an empty frame wouldn't fit.
func (f *StreamFrame) MaxDataLen(maxSize protocol.ByteCount, v protocol.Version) protocol.ByteCount {
	headerLen := f.Length(v) - f.DataLen()
	if f.DataLenPresent {
		// The Length field is sized below for the data that fits, not f's data.
		headerLen -= protocol.ByteCount(quicvarint.Len(uint64(len(f.Data))))
	}
	if headerLen >= maxSize {
		return 0
	}
	maxLen := maxSize - headerLen
	if !f.DataLenPresent {
		return maxLen
	}
	lenLen := protocol.ByteCount(quicvarint.Len(uint64(maxLen)))
	if maxLen < lenLen {
		return 0
	}
	return maxLen - lenLen
}

// MaybeSplitOffFrame splits f so that the returned frame fits into maxSize
// bytes; f is mutated to carry the remainder. It returns (nil, false) if no
// split is needed.
func (f *StreamFrame) MaybeSplitOffFrame(maxSize protocol.ByteCount, v protocol.Version) (*StreamFrame, bool) {
	if maxSize >= f.Length(v) {
		return nil, false
	}
	n := f.MaxDataLen(maxSize, v)
	if n == 0 {
		return nil, false
	}
	head := GetStreamFrame()
	head.StreamID = f.StreamID
	head.Offset = f.Offset
	head.DataLenPresent = f.DataLenPresent
	head.Fin = false
	head.Data = append(head.Data[:0], f.Data[:n]...)

	f.Offset += n
	f.Data = f.Data[n:]

	return head, true
}

// PutBack returns the frame's buffer to the pool once the connection core
// no longer needs it.
func (f *StreamFrame) PutBack() {
	if !f.fromPool {
		return
	}
	f.Data = nil
	f.fromPool = false
	streamFramePool.Put(f)
}
