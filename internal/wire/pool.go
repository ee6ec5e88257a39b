package wire

import "sync"

var ackFramePool = sync.Pool{
	New: func() any {
		return &AckFrame{AckRanges: make([]AckRange, 0, 8)}
	},
}

// GetAckFrame returns an AckFrame from the pool. The caller is responsible
// for filling every field before use.
func GetAckFrame() *AckFrame {
	return ackFramePool.Get().(*AckFrame)
}

// putAckFrame returns an AckFrame to the pool once the connection core is
// done with it (after the frame has been fully processed or encoded).
func putAckFrame(f *AckFrame) {
	f.Reset()
	ackFramePool.Put(f)
}
