package wire

import (
	"bytes"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// StreamsBlockedFrame tells the peer that the sender would have opened more
// streams in the given family if its stream limit allowed it.
type StreamsBlockedFrame struct {
	Type        protocol.StreamType
	StreamLimit protocol.StreamNum
}

func parseStreamsBlockedFrame(r *bytes.Reader, typ FrameType, _ protocol.Version) (*StreamsBlockedFrame, error) {
	limit, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	f := &StreamsBlockedFrame{StreamLimit: protocol.StreamNum(limit)}
	if typ == StreamsBlockedUniFrameType {
		f.Type = protocol.StreamTypeUni
	} else {
		f.Type = protocol.StreamTypeBidi
	}
	return f, nil
}

func (f *StreamsBlockedFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	if f.Type == protocol.StreamTypeUni {
		b = append(b, byte(StreamsBlockedUniFrameType))
	} else {
		b = append(b, byte(StreamsBlockedBidiFrameType))
	}
	return quicvarint.Append(b, uint64(f.StreamLimit)), nil
}

func (f *StreamsBlockedFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.StreamLimit)))
}
