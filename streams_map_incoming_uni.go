package quic

import (
	"context"
	"sync"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/wire"
)

type incomingUniStreamsMap struct {
	mutex   sync.Mutex
	newCond sync.Cond

	streams map[protocol.StreamNum]receiveStreamI

	nextStreamToAccept protocol.StreamNum
	nextStreamToOpen   protocol.StreamNum
	maxStream          protocol.StreamNum

	newStream        func(protocol.StreamNum) receiveStreamI
	queueMaxStreamID func(*wire.MaxStreamsFrame)

	closeErr error
}

func newIncomingUniStreamsMap(
	newStream func(protocol.StreamNum) receiveStreamI,
	maxNumStreams uint64,
	queueControlFrame func(wire.Frame),
) *incomingUniStreamsMap {
	m := &incomingUniStreamsMap{
		streams:          make(map[protocol.StreamNum]receiveStreamI),
		maxStream:        protocol.StreamNum(maxNumStreams),
		newStream:        newStream,
		queueMaxStreamID: func(f *wire.MaxStreamsFrame) { queueControlFrame(f) },
	}
	m.newCond.L = &m.mutex
	return m
}

func (m *incomingUniStreamsMap) AcceptStream(ctx context.Context) (receiveStreamI, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var str receiveStreamI
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

func (m *incomingUniStreamsMap) waitOnCond(ctx context.Context) {
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

func (m *incomingUniStreamsMap) GetOrOpenStream(num protocol.StreamNum) (receiveStreamI, error) {
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
		return nil, nil
	}
	return str, nil
}

func (m *incomingUniStreamsMap) DeleteStream(num protocol.StreamNum) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.streams[num]; !ok {
		return streamError{message: "tried to delete unknown stream %d", nums: []protocol.StreamNum{num}}
	}
	delete(m.streams, num)
	if num >= m.nextStreamToAccept {
		m.maxStream++
		m.queueMaxStreamID(&wire.MaxStreamsFrame{Type: protocol.StreamTypeUni, MaxStreamNum: m.maxStream})
	}
	return nil
}

func (m *incomingUniStreamsMap) CloseWithError(err error) {
	m.mutex.Lock()
	m.closeErr = err
	for _, str := range m.streams {
		str.closeForShutdown(err)
	}
	m.newCond.Broadcast()
	m.mutex.Unlock()
}
