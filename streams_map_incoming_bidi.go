package quic

import (
	"context"
	"sync"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/wire"
)

type incomingBidiStreamsMap struct {
	mutex   sync.Mutex
	newCond sync.Cond

	streams map[protocol.StreamNum]streamI

	nextStreamToAccept protocol.StreamNum // the next stream that will be returned by AcceptStream
	nextStreamToOpen   protocol.StreamNum // one past the highest stream that the peer opened
	maxStream          protocol.StreamNum // the highest stream we allow the peer to open, as advertised in MAX_STREAMS

	newStream        func(protocol.StreamNum) streamI
	queueMaxStreamID func(*wire.MaxStreamsFrame)

	closeErr error
}

func newIncomingBidiStreamsMap(
	newStream func(protocol.StreamNum) streamI,
	maxNumStreams uint64,
	queueControlFrame func(wire.Frame),
) *incomingBidiStreamsMap {
	m := &incomingBidiStreamsMap{
		streams:          make(map[protocol.StreamNum]streamI),
		maxStream:        protocol.StreamNum(maxNumStreams),
		newStream:        newStream,
		queueMaxStreamID: func(f *wire.MaxStreamsFrame) { queueControlFrame(f) },
	}
	m.newCond.L = &m.mutex
	return m
}

func (m *incomingBidiStreamsMap) AcceptStream(ctx context.Context) (streamI, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var str streamI
	for {
		var ok bool
		if m.closeErr != nil {
			return nil, m.closeErr
		}
		str, ok = m.streams[m.nextStreamToAccept]
		if ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.waitOnCond(ctx)
	}
	m.nextStreamToAccept++
	return str, nil
}

// waitOnCond blocks on the condition variable, but also wakes up if ctx is done.
func (m *incomingBidiStreamsMap) waitOnCond(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mutex.Lock()
			m.newCond.Broadcast()
			m.mutex.Unlock()
		case <-done:
		}
	}()
	m.newCond.Wait()
	close(done)
}

func (m *incomingBidiStreamsMap) GetOrOpenStream(num protocol.StreamNum) (streamI, error) {
	m.mutex.Lock()
	if num > m.maxStream {
		m.mutex.Unlock()
		return nil, streamError{message: "peer exceeded stream limit for stream %d", nums: []protocol.StreamNum{num}}
	}
	if num >= m.nextStreamToOpen {
		for newNum := m.nextStreamToOpen; newNum <= num; newNum++ {
			m.streams[newNum] = m.newStream(newNum)
			m.newCond.Broadcast()
		}
		m.nextStreamToOpen = num + 1
	}
	str, ok := m.streams[num]
	m.mutex.Unlock()
	if !ok {
		// stream was already accepted and deleted
		return nil, nil
	}
	return str, nil
}

func (m *incomingBidiStreamsMap) DeleteStream(num protocol.StreamNum) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.streams[num]; !ok {
		return streamError{message: "tried to delete unknown stream %d", nums: []protocol.StreamNum{num}}
	}
	delete(m.streams, num)
	if num >= m.nextStreamToAccept {
		m.maxStream++
		m.queueMaxStreamID(&wire.MaxStreamsFrame{Type: protocol.StreamTypeBidi, MaxStreamNum: m.maxStream})
	}
	return nil
}

func (m *incomingBidiStreamsMap) CloseWithError(err error) {
	m.mutex.Lock()
	m.closeErr = err
	for _, str := range m.streams {
		str.closeForShutdown(err)
	}
	m.newCond.Broadcast()
	m.mutex.Unlock()
}
