package quic

import (
	"sync"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/wire"
)

// framer collects the connection-level control frames and keeps track of
// which streams currently have data to send, so the packet packer can pull
// frames for the next outgoing packet without walking every open stream.
type framer struct {
	streamGetter streamGetter

	streamQueueMutex sync.Mutex
	activeStreams    map[protocol.StreamID]struct{}
	streamQueue      []protocol.StreamID

	controlFrameMutex sync.Mutex
	controlFrames     []wire.Frame
}

func newFramer(streamGetter streamGetter) *framer {
	return &framer{
		streamGetter:  streamGetter,
		activeStreams: make(map[protocol.StreamID]struct{}),
	}
}

func (f *framer) QueueControlFrame(frame wire.Frame) {
	f.controlFrameMutex.Lock()
	f.controlFrames = append(f.controlFrames, frame)
	f.controlFrameMutex.Unlock()
}

func (f *framer) AppendControlFrames(frames []wire.Frame, maxLen protocol.ByteCount) ([]wire.Frame, protocol.ByteCount) {
	var length protocol.ByteCount
	f.controlFrameMutex.Lock()
	for len(f.controlFrames) > 0 {
		frame := f.controlFrames[len(f.controlFrames)-1]
		frameLen := frame.Length(protocol.Draft27)
		if length+frameLen > maxLen {
			break
		}
		frames = append(frames, frame)
		length += frameLen
		f.controlFrames = f.controlFrames[:len(f.controlFrames)-1]
	}
	f.controlFrameMutex.Unlock()
	return frames, length
}

func (f *framer) AddActiveStream(id protocol.StreamID) {
	f.streamQueueMutex.Lock()
	if _, ok := f.activeStreams[id]; !ok {
		f.streamQueue = append(f.streamQueue, id)
		f.activeStreams[id] = struct{}{}
	}
	f.streamQueueMutex.Unlock()
}

func (f *framer) AppendStreamFrames(frames []wire.Frame, maxLen protocol.ByteCount) []wire.Frame {
	var length protocol.ByteCount
	f.streamQueueMutex.Lock()
	// pop STREAM frames, until less than MinStreamFrameSize bytes are left in the packet
	numActiveStreams := len(f.streamQueue)
	for i := 0; i < numActiveStreams; i++ {
		if maxLen-length < protocol.MinStreamFrameSize {
			break
		}
		id := f.streamQueue[0]
		f.streamQueue = f.streamQueue[1:]
		str, err := f.streamGetter.GetOrOpenSendStream(id)
		// the stream can be nil if it completed after it said it had data
		if str == nil || err != nil {
			delete(f.activeStreams, id)
			continue
		}
		frame := str.popStreamFrame(maxLen - length)
		if !str.hasData() {
			delete(f.activeStreams, id)
		} else {
			f.streamQueue = append(f.streamQueue, id)
		}
		if frame == nil {
			continue
		}
		frames = append(frames, frame)
		length += frame.Length(protocol.Draft27)
	}
	f.streamQueueMutex.Unlock()
	return frames
}
