package wire

import (
	"bytes"
	"io"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// NewTokenFrame carries an address-validation token the client can present
// on a future connection's Initial packet.
type NewTokenFrame struct {
	Token []byte
}

func parseNewTokenFrame(r *bytes.Reader, _ protocol.Version) (*NewTokenFrame, error) {
	length, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, io.EOF
	}
	token := make([]byte, length)
	if _, err := io.ReadFull(r, token); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return &NewTokenFrame{Token: token}, nil
}

func (f *NewTokenFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(NewTokenFrameType))
	b = quicvarint.Append(b, uint64(len(f.Token)))
	return append(b, f.Token...), nil
}

func (f *NewTokenFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(len(f.Token)))+len(f.Token))
}
