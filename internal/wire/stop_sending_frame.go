package wire

import (
	"bytes"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/qerr"
	"github.com/minq-project/minq/quicvarint"
)

// StopSendingFrame asks the peer to stop sending on a stream. It is a
// polite request; it does not by itself close the receiving side.
type StopSendingFrame struct {
	StreamID  protocol.StreamID
	ErrorCode qerr.StreamErrorCode
}

func parseStopSendingFrame(r *bytes.Reader, _ protocol.Version) (*StopSendingFrame, error) {
	sid, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	errorCode, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	return &StopSendingFrame{StreamID: protocol.StreamID(sid), ErrorCode: qerr.StreamErrorCode(errorCode)}, nil
}

func (f *StopSendingFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(StopSendingFrameType))
	b = quicvarint.Append(b, uint64(f.StreamID))
	b = quicvarint.Append(b, uint64(f.ErrorCode))
	return b, nil
}

func (f *StopSendingFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.StreamID))+quicvarint.Len(uint64(f.ErrorCode)))
}
