package quic

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minq-project/minq/internal/flowcontrol"
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/wire"
)

// ReceiveStream is the read side of a stream.
type ReceiveStream interface {
	StreamID() protocol.StreamID
	io.Reader

	// CancelRead aborts receiving on this stream. It will ask the peer to
	// stop transmitting stream data. Read will unblock immediately, and
	// future Read calls will fail.
	CancelRead(StreamErrorCode)

	SetReadDeadline(time.Time) error
}

// receiveStream reassembles the incoming byte stream of STREAM frames for
// one stream ID and exposes it through Read.
type receiveStream struct {
	mutex sync.Mutex

	streamID protocol.StreamID
	sender   streamSender

	flowController flowcontrol.StreamFlowController
	frameQueue     *frameSorter

	readOffset protocol.ByteCount

	currentFrame       []byte
	currentFrameIsLast bool // is the currentFrame the last frame of the stream

	finSeen     bool // a frame with the Fin bit, or a RESET_STREAM, has been received
	finalOffset protocol.ByteCount

	canceledRead  bool
	resetRemotely bool
	completed     bool

	closedForShutdown bool

	closeForShutdownErr error
	cancelReadErr        error
	resetRemotelyErr     error

	readChan     chan struct{}
	readDeadline time.Time
}

var _ ReceiveStream = &receiveStream{}

func newReceiveStream(
	streamID protocol.StreamID,
	sender streamSender,
	flowController flowcontrol.StreamFlowController,
) *receiveStream {
	return &receiveStream{
		streamID:       streamID,
		sender:         sender,
		flowController: flowController,
		frameQueue:     newFrameSorter(),
		readChan:       make(chan struct{}),
	}
}

func (s *receiveStream) StreamID() protocol.StreamID { return s.streamID }

func (s *receiveStream) readErrorLocked() error {
	if s.closeForShutdownErr != nil {
		return s.closeForShutdownErr
	}
	if s.cancelReadErr != nil {
		return s.cancelReadErr
	}
	if s.resetRemotelyErr != nil {
		return s.resetRemotelyErr
	}
	return nil
}

func (s *receiveStream) Read(p []byte) (int, error) {
	s.mutex.Lock()
	if len(p) == 0 {
		s.mutex.Unlock()
		return 0, nil
	}

	for {
		if err := s.readErrorLocked(); err != nil {
			s.mutex.Unlock()
			return 0, err
		}
		if s.currentFrame != nil || s.currentFrameIsLast {
			break
		}
		if data, ok := s.frameQueue.Pop(); ok {
			s.currentFrame = data
			s.readOffset += protocol.ByteCount(len(data))
			if s.finSeen && s.readOffset == s.finalOffset {
				s.currentFrameIsLast = true
			}
			break
		}

		readChan := s.readChan
		deadline := s.readDeadline
		s.mutex.Unlock()

		if !deadline.IsZero() {
			if !time.Now().Before(deadline) {
				return 0, errDeadline
			}
			select {
			case <-readChan:
			case <-time.After(time.Until(deadline)):
				return 0, errDeadline
			}
		} else {
			<-readChan
		}
		s.mutex.Lock()
	}

	if s.currentFrame == nil {
		// the final offset was reached without ever buffering data for it,
		// e.g. an empty STREAM frame carrying the Fin bit
		s.mutex.Unlock()
		s.flowController.AddBytesRead(0)
		s.completeAfterRead()
		return 0, io.EOF
	}

	n := copy(p, s.currentFrame)
	s.currentFrame = s.currentFrame[n:]
	if len(s.currentFrame) == 0 {
		s.currentFrame = nil
	}
	s.flowController.AddBytesRead(protocol.ByteCount(n))
	isLast := s.currentFrameIsLast && s.currentFrame == nil
	s.mutex.Unlock()

	if isLast {
		s.completeAfterRead()
		return n, io.EOF
	}
	return n, nil
}

func (s *receiveStream) completeAfterRead() {
	s.mutex.Lock()
	if s.completed {
		s.mutex.Unlock()
		return
	}
	s.completed = true
	s.mutex.Unlock()
	s.sender.onStreamCompleted(s.streamID)
}

// checkCompletionLocked reports whether the stream has just become
// completed as a result of finSeen becoming true while a cancellation was
// already pending, or vice versa. Must be called with the mutex held.
func (s *receiveStream) checkCompletionLocked() (needsAbandon, needsComplete bool) {
	if s.completed || !s.finSeen {
		return false, false
	}
	if !s.canceledRead && !s.resetRemotely {
		return false, false
	}
	s.completed = true
	return true, true
}

func (s *receiveStream) handleStreamFrame(frame *wire.StreamFrame) error {
	s.mutex.Lock()
	if s.closedForShutdown {
		s.mutex.Unlock()
		return nil
	}
	maxOffset := frame.Offset + protocol.ByteCount(len(frame.Data))
	if err := s.flowController.UpdateHighestReceived(maxOffset, frame.Fin); err != nil {
		s.mutex.Unlock()
		return err
	}
	if frame.Fin {
		s.finSeen = true
		s.finalOffset = maxOffset
	}
	if err := s.frameQueue.Push(frame.Data, frame.Offset, frame.Fin); err != nil {
		s.mutex.Unlock()
		return err
	}
	needsAbandon, needsComplete := s.checkCompletionLocked()
	s.mutex.Unlock()
	s.signalRead()
	if needsAbandon {
		s.flowController.Abandon()
	}
	if needsComplete {
		s.sender.onStreamCompleted(s.streamID)
	}
	return nil
}

func (s *receiveStream) handleResetStreamFrame(frame *wire.ResetStreamFrame) error {
	s.mutex.Lock()
	if s.closedForShutdown {
		s.mutex.Unlock()
		return nil
	}
	if err := s.flowController.UpdateHighestReceived(frame.FinalSize, true); err != nil {
		s.mutex.Unlock()
		return err
	}
	s.finSeen = true
	s.finalOffset = frame.FinalSize
	s.resetRemotely = true
	if s.resetRemotelyErr == nil {
		s.resetRemotelyErr = &StreamError{
			StreamID:  uint64(s.streamID),
			ErrorCode: frame.ErrorCode,
			Remote:    true,
		}
	}
	needsAbandon, needsComplete := s.checkCompletionLocked()
	s.mutex.Unlock()
	s.signalRead()
	if needsAbandon {
		s.flowController.Abandon()
	}
	if needsComplete {
		s.sender.onStreamCompleted(s.streamID)
	}
	return nil
}

func (s *receiveStream) CancelRead(errorCode StreamErrorCode) {
	s.mutex.Lock()
	if s.canceledRead || s.completed {
		s.mutex.Unlock()
		return
	}
	s.canceledRead = true
	s.cancelReadErr = &StreamError{
		StreamID:  uint64(s.streamID),
		ErrorCode: errorCode,
		Remote:    false,
	}
	needsAbandon, needsComplete := s.checkCompletionLocked()
	s.mutex.Unlock()
	s.signalRead()

	s.sender.queueControlFrame(&wire.StopSendingFrame{
		StreamID:  s.streamID,
		ErrorCode: errorCode,
	})
	if needsAbandon {
		s.flowController.Abandon()
	}
	if needsComplete {
		s.sender.onStreamCompleted(s.streamID)
	}
}

// CloseRemote is called when the peer is known to have sent everything for
// this stream, without an explicit STREAM frame carrying the Fin bit, e.g.
// when the connection is closing.
func (s *receiveStream) CloseRemote(offset protocol.ByteCount) {
	s.handleStreamFrame(&wire.StreamFrame{Offset: offset, Fin: true})
}

func (s *receiveStream) SetReadDeadline(t time.Time) error {
	s.mutex.Lock()
	s.readDeadline = t
	s.mutex.Unlock()
	s.signalRead()
	return nil
}

func (s *receiveStream) closeForShutdown(err error) {
	s.mutex.Lock()
	s.closedForShutdown = true
	s.closeForShutdownErr = err
	s.mutex.Unlock()
	s.signalRead()
}

func (s *receiveStream) getWindowUpdate() protocol.ByteCount {
	return s.flowController.GetWindowUpdate()
}

// signalRead wakes up every goroutine currently blocked in Read.
func (s *receiveStream) signalRead() {
	s.mutex.Lock()
	close(s.readChan)
	s.readChan = make(chan struct{})
	s.mutex.Unlock()
}

func (s *receiveStream) String() string {
	return fmt.Sprintf("receive stream %d", s.streamID)
}
