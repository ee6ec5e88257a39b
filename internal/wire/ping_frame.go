package wire

import "github.com/minq-project/minq/internal/protocol"

// PingFrame elicits an acknowledgment from the peer without carrying any
// application data.
type PingFrame struct{}

func (f *PingFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	return append(b, byte(PingFrameType)), nil
}

func (f *PingFrame) Length(_ protocol.Version) protocol.ByteCount { return 1 }
