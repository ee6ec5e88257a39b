package wire

import (
	"bytes"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// MaxStreamsFrame raises the limit on the number of streams the peer may
// open in the given directionality family.
type MaxStreamsFrame struct {
	Type         protocol.StreamType
	MaxStreamNum protocol.StreamNum
}

func parseMaxStreamsFrame(r *bytes.Reader, typ FrameType, _ protocol.Version) (*MaxStreamsFrame, error) {
	n, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	f := &MaxStreamsFrame{MaxStreamNum: protocol.StreamNum(n)}
	if typ == MaxStreamsUniFrameType {
		f.Type = protocol.StreamTypeUni
	} else {
		f.Type = protocol.StreamTypeBidi
	}
	return f, nil
}

func (f *MaxStreamsFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	if f.Type == protocol.StreamTypeUni {
		b = append(b, byte(MaxStreamsUniFrameType))
	} else {
		b = append(b, byte(MaxStreamsBidiFrameType))
	}
	return quicvarint.Append(b, uint64(f.MaxStreamNum)), nil
}

func (f *MaxStreamsFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.MaxStreamNum)))
}
