package wire

import (
	"bytes"
	"io"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/qerr"
	"github.com/minq-project/minq/quicvarint"
)

// ConnectionCloseFrame terminates the connection, optionally carrying a
// human-readable reason. Transport-level closes additionally name the frame
// type that triggered the error.
type ConnectionCloseFrame struct {
	IsApplicationError bool
	ErrorCode          uint64
	FrameType          uint64
	ReasonPhrase       string
}

func parseConnectionCloseFrame(r *bytes.Reader, typ FrameType, _ protocol.Version) (*ConnectionCloseFrame, error) {
	f := &ConnectionCloseFrame{IsApplicationError: typ == ConnectionCloseApplicationFrameType}
	errorCode, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	f.ErrorCode = errorCode

	if !f.IsApplicationError {
		frameType, err := quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
		f.FrameType = frameType
	}

	reasonLen, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	if int(reasonLen) > r.Len() {
		return nil, io.EOF
	}
	reason := make([]byte, reasonLen)
	if _, err := io.ReadFull(r, reason); err != nil {
		return nil, err
	}
	f.ReasonPhrase = string(reason)
	return f, nil
}

func (f *ConnectionCloseFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	if f.IsApplicationError {
		b = append(b, byte(ConnectionCloseApplicationFrameType))
	} else {
		b = append(b, byte(ConnectionCloseTransportFrameType))
	}
	b = quicvarint.Append(b, f.ErrorCode)
	if !f.IsApplicationError {
		b = quicvarint.Append(b, f.FrameType)
	}
	b = quicvarint.Append(b, uint64(len(f.ReasonPhrase)))
	return append(b, []byte(f.ReasonPhrase)...), nil
}

func (f *ConnectionCloseFrame) Length(_ protocol.Version) protocol.ByteCount {
	length := 1 + quicvarint.Len(f.ErrorCode) + quicvarint.Len(uint64(len(f.ReasonPhrase))) + len(f.ReasonPhrase)
	if !f.IsApplicationError {
		length += quicvarint.Len(f.FrameType)
	}
	return protocol.ByteCount(length)
}

// TransportError converts the frame into the qerr type the connection core
// uses to represent errors internally.
func (f *ConnectionCloseFrame) TransportError() *qerr.TransportError {
	return &qerr.TransportError{
		ErrorCode: qerr.TransportErrorCode(f.ErrorCode),
		FrameType: f.FrameType,
		Remote:    true,
		Message:   f.ReasonPhrase,
	}
}

// ApplicationError converts the frame into the qerr type the connection
// core uses to represent application-level closes internally.
func (f *ConnectionCloseFrame) ApplicationError() *qerr.ApplicationError {
	return &qerr.ApplicationError{
		ErrorCode: qerr.ApplicationErrorCode(f.ErrorCode),
		Remote:    true,
		Message:   f.ReasonPhrase,
	}
}
