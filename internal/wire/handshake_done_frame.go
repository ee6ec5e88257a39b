package wire

import "github.com/minq-project/minq/internal/protocol"

// HandshakeDoneFrame confirms handshake completion to the client; only ever
// sent by the server.
type HandshakeDoneFrame struct{}

func (f *HandshakeDoneFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	return append(b, byte(HandshakeDoneFrameType)), nil
}

func (f *HandshakeDoneFrame) Length(_ protocol.Version) protocol.ByteCount { return 1 }
