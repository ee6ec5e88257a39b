package wire

import (
	"bytes"
	"io"

	"github.com/minq-project/minq/internal/protocol"
)

// PathResponseFrame echoes the data from a PathChallengeFrame, proving
// receipt on the path it arrived on.
type PathResponseFrame struct {
	Data [8]byte
}

func parsePathResponseFrame(r *bytes.Reader, _ protocol.Version) (*PathResponseFrame, error) {
	f := &PathResponseFrame{}
	if _, err := io.ReadFull(r, f.Data[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return f, nil
}

func (f *PathResponseFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(PathResponseFrameType))
	return append(b, f.Data[:]...), nil
}

func (f *PathResponseFrame) Length(_ protocol.Version) protocol.ByteCount { return 9 }
