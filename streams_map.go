package quic

import (
	"context"
	"sync"

	"github.com/minq-project/minq/internal/flowcontrol"
	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/wire"
)

// streamsMap tracks every stream open on a connection, split into the four
// families the peer-assigned stream ID space is divided into: bidirectional
// streams we opened, bidirectional streams the peer opened, and the
// unidirectional counterparts of each.
type streamsMap struct {
	ctx    context.Context
	sender streamSender

	newFlowController func(protocol.StreamID) flowcontrol.StreamFlowController
	perspective       protocol.Perspective

	outgoingBidiStreams *outgoingBidiStreamsMap
	incomingBidiStreams *incomingBidiStreamsMap
	outgoingUniStreams  *outgoingUniStreamsMap
	incomingUniStreams  *incomingUniStreamsMap

	mutex      sync.Mutex
	resetMaps  bool
	resetCount int
}

var _ streamManager = &streamsMap{}

func newStreamsMap(
	ctx context.Context,
	sender streamSender,
	queueControlFrame func(wire.Frame),
	newFlowController func(protocol.StreamID) flowcontrol.StreamFlowController,
	maxIncomingStreams, maxIncomingUniStreams uint64,
	perspective protocol.Perspective,
) streamManager {
	m := &streamsMap{
		ctx:               ctx,
		sender:            sender,
		newFlowController: newFlowController,
		perspective:       perspective,
	}
	m.initMaps(maxIncomingStreams, maxIncomingUniStreams, queueControlFrame)
	return m
}

func (m *streamsMap) initMaps(maxIncomingStreams, maxIncomingUniStreams uint64, queueControlFrame func(wire.Frame)) {
	m.outgoingBidiStreams = newOutgoingBidiStreamsMap(
		func(num protocol.StreamNum) streamI {
			id := num.StreamID(m.perspective, false)
			return newStream(id, m.sender, m.newFlowController(id), m.newFlowController(id))
		},
		queueControlFrame,
	)
	m.incomingBidiStreams = newIncomingBidiStreamsMap(
		func(num protocol.StreamNum) streamI {
			id := num.StreamID(m.perspective.Opposite(), false)
			return newStream(id, m.sender, m.newFlowController(id), m.newFlowController(id))
		},
		maxIncomingStreams,
		queueControlFrame,
	)
	m.outgoingUniStreams = newOutgoingUniStreamsMap(
		func(num protocol.StreamNum) sendStreamI {
			id := num.StreamID(m.perspective, true)
			return newSendStream(id, m.sender, m.newFlowController(id))
		},
		queueControlFrame,
	)
	m.incomingUniStreams = newIncomingUniStreamsMap(
		func(num protocol.StreamNum) receiveStreamI {
			id := num.StreamID(m.perspective.Opposite(), true)
			return newReceiveStream(id, m.sender, m.newFlowController(id))
		},
		maxIncomingUniStreams,
		queueControlFrame,
	)
}

func (m *streamsMap) OpenStream() (Stream, error) {
	return m.outgoingBidiStreams.OpenStream()
}

func (m *streamsMap) OpenStreamSync(ctx context.Context) (Stream, error) {
	return m.outgoingBidiStreams.OpenStreamSync(ctx)
}

func (m *streamsMap) OpenUniStream() (SendStream, error) {
	return m.outgoingUniStreams.OpenStream()
}

func (m *streamsMap) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	return m.outgoingUniStreams.OpenStreamSync(ctx)
}

func (m *streamsMap) AcceptStream(ctx context.Context) (Stream, error) {
	return m.incomingBidiStreams.AcceptStream(ctx)
}

func (m *streamsMap) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	return m.incomingUniStreams.AcceptStream(ctx)
}

func (m *streamsMap) GetOrOpenSendStream(id protocol.StreamID) (sendStreamI, error) {
	num := id.StreamNum()
	switch {
	case id.IsUniDirectional():
		if id.InitiatedBy() == m.perspective {
			return m.outgoingUniStreams.GetStream(num)
		}
		return nil, streamError{message: "peer attempted to open receive stream %d", nums: []protocol.StreamNum{num}}
	default:
		if id.InitiatedBy() == m.perspective {
			str, err := m.outgoingBidiStreams.GetStream(num)
			if err != nil {
				return nil, err
			}
			return str, nil
		}
		str, err := m.incomingBidiStreams.GetOrOpenStream(num)
		if err != nil || str == nil {
			return nil, err
		}
		return str, nil
	}
}

func (m *streamsMap) GetOrOpenReceiveStream(id protocol.StreamID) (receiveStreamI, error) {
	num := id.StreamNum()
	switch {
	case id.IsUniDirectional():
		if id.InitiatedBy() == m.perspective {
			return nil, streamError{message: "peer attempted to send on unidirectional stream %d", nums: []protocol.StreamNum{num}}
		}
		return m.incomingUniStreams.GetOrOpenStream(num)
	default:
		if id.InitiatedBy() == m.perspective {
			str, err := m.outgoingBidiStreams.GetStream(num)
			if err != nil {
				return nil, err
			}
			return str, nil
		}
		str, err := m.incomingBidiStreams.GetOrOpenStream(num)
		if err != nil || str == nil {
			return nil, err
		}
		return str, nil
	}
}

func (m *streamsMap) DeleteStream(id protocol.StreamID) error {
	num := id.StreamNum()
	switch {
	case id.IsUniDirectional():
		if id.InitiatedBy() == m.perspective {
			return m.outgoingUniStreams.DeleteStream(num)
		}
		return m.incomingUniStreams.DeleteStream(num)
	default:
		if id.InitiatedBy() == m.perspective {
			return m.outgoingBidiStreams.DeleteStream(num)
		}
		return m.incomingBidiStreams.DeleteStream(num)
	}
}

func (m *streamsMap) UpdateLimits(p *wire.TransportParameters) {
	m.outgoingBidiStreams.SetMaxStream(p.MaxBidiStreamNum)
	m.outgoingUniStreams.SetMaxStream(p.MaxUniStreamNum)
}

func (m *streamsMap) HandleMaxStreamsFrame(f *wire.MaxStreamsFrame) {
	if f.Type == protocol.StreamTypeBidi {
		m.outgoingBidiStreams.SetMaxStream(f.MaxStreamNum)
		return
	}
	m.outgoingUniStreams.SetMaxStream(f.MaxStreamNum)
}

func (m *streamsMap) CloseWithError(err error) {
	m.outgoingBidiStreams.CloseWithError(err)
	m.incomingBidiStreams.CloseWithError(err)
	m.outgoingUniStreams.CloseWithError(err)
	m.incomingUniStreams.CloseWithError(err)
}

// UseResetMaps marks this streamsMap as backing a 0-RTT connection attempt;
// a subsequent ResetFor0RTT call discards everything opened so far, since
// the server never saw it.
func (m *streamsMap) UseResetMaps() {
	m.mutex.Lock()
	m.resetMaps = true
	m.mutex.Unlock()
}

// ResetFor0RTT is called when 0-RTT data is rejected: all streams opened
// during the rejected 0-RTT flight are closed with errZeroRTTRejected. The
// four maps are not recreated; they stay closed with that error.
func (m *streamsMap) ResetFor0RTT() {
	m.mutex.Lock()
	if !m.resetMaps {
		m.mutex.Unlock()
		return
	}
	m.resetCount++
	m.mutex.Unlock()
	m.CloseWithError(errZeroRTTRejected)
}

var errZeroRTTRejected = streamError{message: "0-RTT rejected"}
