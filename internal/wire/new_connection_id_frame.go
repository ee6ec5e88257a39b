package wire

import (
	"bytes"
	"io"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/quicvarint"
)

// NewConnectionIDFrame offers the peer a fresh connection ID to use for
// future packets, together with its stateless reset token.
type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        protocol.ConnectionID
	StatelessResetToken protocol.StatelessResetToken
}

func parseNewConnectionIDFrame(r *bytes.Reader, _ protocol.Version) (*NewConnectionIDFrame, error) {
	seq, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	retirePriorTo, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	if retirePriorTo > seq {
		return nil, errInvalidRetirePriorTo
	}
	connIDLen, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if connIDLen == 0 || connIDLen > protocol.MaxConnectionIDLen {
		return nil, errInvalidConnectionIDLen
	}
	connID, err := protocol.ReadConnectionID(r, int(connIDLen))
	if err != nil {
		return nil, err
	}
	f := &NewConnectionIDFrame{SequenceNumber: seq, RetirePriorTo: retirePriorTo, ConnectionID: connID}
	if _, err := io.ReadFull(r, f.StatelessResetToken[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return f, nil
}

func (f *NewConnectionIDFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = append(b, byte(NewConnectionIDFrameType))
	b = quicvarint.Append(b, f.SequenceNumber)
	b = quicvarint.Append(b, f.RetirePriorTo)
	b = append(b, byte(f.ConnectionID.Len()))
	b = append(b, f.ConnectionID.Bytes()...)
	return append(b, f.StatelessResetToken[:]...), nil
}

func (f *NewConnectionIDFrame) Length(_ protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + quicvarint.Len(f.SequenceNumber) + quicvarint.Len(f.RetirePriorTo) +
		1 + f.ConnectionID.Len() + 16)
}
