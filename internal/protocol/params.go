package protocol

import "time"

// Defaults mirrored from the values the reference endpoint negotiates when
// the application doesn't override them via Config/transport parameters.
const (
	// MinInitialPacketSize is the minimum size of a client's first Initial
	// datagram, padded if necessary.
	MinInitialPacketSize ByteCount = 1200

	// MaxPacketBufferSize is the largest short-header packet we build before
	// the peer's max_packet_size transport parameter is known.
	MaxPacketBufferSize ByteCount = 1452

	DefaultMaxReceiveStreamFlowControlWindow     ByteCount = 6 << 20   // 6 MB
	DefaultMaxReceiveConnectionFlowControlWindow ByteCount = 15 << 20  // 15 MB
	DefaultInitialMaxStreamData                  ByteCount = 512 << 10 // 512 KB
	DefaultInitialMaxData                        ByteCount = 1 << 20   // 1 MB

	DefaultMaxIncomingStreams    = 100
	DefaultMaxIncomingUniStreams = 100

	DefaultActiveConnectionIDLimit = 2

	DefaultAckDelayExponent = 3
	DefaultMaxAckDelay      = 25 * time.Millisecond
	// MaxAckDelay is the maximum amount of time a receiver delays sending an
	// ACK after an ack-eliciting packet arrives, used to arm the ACK alarm.
	MaxAckDelay         = DefaultMaxAckDelay
	MaxAckDelayExponent = 20

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	MinRemoteIdleTimeout    = 5 * time.Second

	// MaxUDPPayloadSize is the maximum datagram size this endpoint will ever
	// request from the peer or admit on the wire.
	MaxUDPPayloadSize ByteCount = 1 << 14
)

// WindowUpdateThreshold is the fraction of the receive window that must be
// consumed before a window update is sent.
const WindowUpdateThreshold = 0.25

const (
	// MaxDatagramSize is the maximum size of a QUIC datagram this endpoint
	// sends, absent a larger value discovered via path MTU probing.
	MaxDatagramSize ByteCount = 1252

	// MinStreamFrameSize is the smallest STREAM frame payload the packer
	// bothers writing; below this it leaves the space for padding/coalescing
	// instead, per spec's send-path greedy-packing rule.
	MinStreamFrameSize ByteCount = 128

	// MaxCryptoStreamOffset bounds how much data a peer may send on the
	// crypto stream, guarding against a peer trying to exhaust memory with
	// an unbounded ClientHello/handshake message.
	MaxCryptoStreamOffset ByteCount = 16 << 10

	// MaxNumAckRanges caps the number of gaps tracked in a received-packet
	// history before the oldest ranges are dropped, bounding both memory use
	// and the size of the ACK frame that would have to describe them all.
	MaxNumAckRanges = 500

	// SkipPacketInitialPeriodLength is the initial average number of packets
	// sent between packet numbers the packet-number generator skips, as an
	// optimistic-ACK defense (a peer blindly acking unseen numbers is
	// caught out as soon as it acks a skipped one). The period doubles every
	// time a number is skipped, up to SkipPacketMaxPeriod.
	SkipPacketInitialPeriodLength PacketNumber = 25
	// SkipPacketMaxPeriod is the maximum average period between two skipped
	// packet numbers.
	SkipPacketMaxPeriod PacketNumber = 3000

	// MaxActiveConnectionIDs is the most connection IDs this endpoint will
	// track for a single peer. The advertised active_connection_id_limit
	// comes from Config.ActiveConnectionIDLimit instead.
	MaxActiveConnectionIDs = 4

	// ClosedSessionDeleteTimeout is how long the packet handler map keeps a
	// closed connection's entry around (to keep exchanging stateless resets
	// and CONNECTION_CLOSE retransmissions) before forgetting it.
	ClosedSessionDeleteTimeout = 5 * time.Second

	// TimerGranularity is the assumed minimum precision of system timers;
	// loss-detection and pacing deadlines are never scheduled finer than
	// this, since doing so would just cause timer churn.
	TimerGranularity = time.Millisecond

	// MinPacingDelay is the smallest delay the pacer will ever insert
	// between packets; below this the packets are just sent back to back.
	MinPacingDelay = time.Millisecond

	// MaxAckDelayInclGranularity is the max_ack_delay value this endpoint
	// advertises in its transport parameters: DefaultMaxAckDelay plus the
	// timer granularity we budget for actually sending the ACK.
	MaxAckDelayInclGranularity = DefaultMaxAckDelay + TimerGranularity

	// AckDelayExponent is the ack_delay_exponent value this endpoint
	// advertises in its transport parameters.
	AckDelayExponent = DefaultAckDelayExponent

	// InitialCongestionWindow is the congestion window a new congestion
	// controller starts at, per RFC 9002 section 7.2.
	InitialCongestionWindow ByteCount = 32 * MaxDatagramSize

	// DefaultMaxCongestionWindow is the largest congestion window the
	// default congestion controller will ever grow to, as a safety bound
	// independent of what the network appears to support.
	DefaultMaxCongestionWindow ByteCount = 2000 * MaxDatagramSize

	// MaxCongestionWindowPackets is the maximum congestion window, in packets.
	MaxCongestionWindowPackets = 10000

	// MaxOutstandingSentPackets is the maximum number of packets saved for
	// retransmission. Once reached, only ACKs and retransmissions are sent,
	// not new data.
	MaxOutstandingSentPackets = 2 * MaxCongestionWindowPackets

	// MaxTrackedSentPackets is the maximum number of sent packets saved for
	// retransmission. Once reached, nothing more is sent at all. This must
	// be larger than MaxOutstandingSentPackets.
	MaxTrackedSentPackets = MaxOutstandingSentPackets * 5 / 4
)

// CongestionControlAlgorithm selects the congestion-control algorithm a
// connection's sent-packet handler runs.
type CongestionControlAlgorithm uint8

const (
	// CUBIC selects the CUBIC congestion-control algorithm (RFC 8312).
	CUBIC CongestionControlAlgorithm = iota
	// RENO runs the same controller in Reno-compatible mode, foregoing
	// CUBIC's concave/convex window-growth curve.
	RENO
)
