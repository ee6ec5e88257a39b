package wire

import (
	"bytes"
	"io"

	"github.com/minq-project/minq/internal/protocol"
)

// PathChallengeFrame carries 8 bytes of arbitrary data that the receiver
// must echo back in a PathResponseFrame.
type PathChallengeFrame struct {
	Data [8]byte
}

func parsePathChallengeFrame(r *bytes.Reader, _ protocol.Version) (*PathChallengeFrame, error) {
	f := &PathChallengeFrame{}
	if _, err := io.ReadFull(r, f.Data[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return f, nil
}

func (f *PathChallengeFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(PathChallengeFrameType))
	return append(b, f.Data[:]...), nil
}

func (f *PathChallengeFrame) Length(_ protocol.Version) protocol.ByteCount { return 9 }
