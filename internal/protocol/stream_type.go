package protocol

// StreamType distinguishes bidirectional from unidirectional streams,
// independent of which endpoint initiated them.
type StreamType uint8

const (
	StreamTypeBidi StreamType = iota
	StreamTypeUni
)

func (t StreamType) String() string {
	if t == StreamTypeUni {
		return "uni"
	}
	return "bidi"
}
