package quic

import (
	"context"
	"sync"
	"time"

	"github.com/minq-project/minq/internal/flowcontrol"
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/wire"
)

// StreamID identifies a stream within a connection.
type StreamID = protocol.StreamID

// SendStream is the sending side of a stream.
type SendStream interface {
	StreamID() protocol.StreamID
	Write([]byte) (int, error)
	CancelWrite(StreamErrorCode) error
	Close() error
	Context() context.Context
	SetWriteDeadline(time.Time) error
}

// Stream is a bidirectional QUIC stream.
type Stream interface {
	ReceiveStream
	SendStream

	SetDeadline(time.Time) error
}

// streamSender is the interface the two halves of a stream use to hand
// frames off to whatever owns them and to report when they're done.
type streamSender interface {
	queueControlFrame(wire.Frame)
	scheduleSending()
	onStreamCompleted(protocol.StreamID)
}

// sendStreamI and receiveStreamI add the package-internal surface that the
// streams map needs on top of the public Send/ReceiveStream interfaces.
type sendStreamI interface {
	SendStream
	handleStopSendingFrame(*wire.StopSendingFrame)
	handleMaxStreamDataFrame(*wire.MaxStreamDataFrame)
	hasData() bool
	popStreamFrame(protocol.ByteCount) *wire.StreamFrame
	closeForShutdown(error)
}

type receiveStreamI interface {
	ReceiveStream
	handleStreamFrame(*wire.StreamFrame) error
	handleResetStreamFrame(*wire.ResetStreamFrame) error
	closeForShutdown(error)
	getWindowUpdate() protocol.ByteCount
}

type streamI interface {
	Stream
	sendStreamI
	receiveStreamI
}

// stream glues a sendStream and a receiveStream together under one
// StreamID, the way a bidirectional QUIC stream is exposed to applications.
// Both halves report completion through the stream itself, so the owning
// connection only hears onStreamCompleted once, after both directions are
// done with it.
type stream struct {
	*receiveStream
	*sendStream

	completedMutex       sync.Mutex
	sender               streamSender
	streamID             protocol.StreamID
	sendSideCompleted    bool
	receiveSideCompleted bool
}

var _ streamI = &stream{}

func newStream(
	streamID protocol.StreamID,
	sender streamSender,
	sendFC flowcontrol.StreamFlowController,
	receiveFC flowcontrol.StreamFlowController,
) *stream {
	s := &stream{
		sender:   sender,
		streamID: streamID,
	}
	s.sendStream = newSendStream(streamID, s, sendFC)
	s.receiveStream = newReceiveStream(streamID, s, receiveFC)
	return s
}

func (s *stream) StreamID() protocol.StreamID { return s.streamID }

func (s *stream) SetDeadline(t time.Time) error {
	_ = s.SetReadDeadline(t)
	_ = s.SetWriteDeadline(t)
	return nil
}

func (s *stream) closeForShutdown(err error) {
	s.sendStream.closeForShutdown(err)
	s.receiveStream.closeForShutdown(err)
}

func (s *stream) queueControlFrame(f wire.Frame) { s.sender.queueControlFrame(f) }
func (s *stream) scheduleSending()               { s.sender.scheduleSending() }

func (s *stream) onStreamCompleted(id protocol.StreamID) {
	s.completedMutex.Lock()
	defer s.completedMutex.Unlock()
	if !s.sendSideCompleted && s.sendStream.finished() {
		s.sendSideCompleted = true
	}
	if !s.receiveSideCompleted {
		s.receiveStream.mutex.Lock()
		s.receiveSideCompleted = s.receiveStream.completed
		s.receiveStream.mutex.Unlock()
	}
	if s.sendSideCompleted && s.receiveSideCompleted {
		s.sender.onStreamCompleted(id)
	}
}
