package ackhandler

import "fmt"

// SendMode tells the packet packer what, if anything, it's currently
// allowed to send, as decided by the sent-packet handler's view of
// congestion control, pacing, queued ACKs, and PTO state.
type SendMode uint8

const (
	// SendNone means nothing may be sent right now.
	SendNone SendMode = iota
	// SendAny means there's no restriction: send whatever is ready.
	SendAny
	// SendPacingLimited means the congestion window allows more, but the
	// pacer wants to wait before releasing another packet.
	SendPacingLimited
	// SendAck means only an ACK (no new data) may be sent.
	SendAck
	// SendPTOInitial means a PTO probe is due in the Initial packet
	// number space.
	SendPTOInitial
	// SendPTOHandshake means a PTO probe is due in the Handshake packet
	// number space.
	SendPTOHandshake
	// SendPTOAppData means a PTO probe is due in the 1-RTT packet
	// number space.
	SendPTOAppData
)

func (s SendMode) String() string {
	switch s {
	case SendNone:
		return "none"
	case SendAny:
		return "any"
	case SendPacingLimited:
		return "pacing limited"
	case SendAck:
		return "ack"
	case SendPTOInitial:
		return "pto (Initial)"
	case SendPTOHandshake:
		return "pto (Handshake)"
	case SendPTOAppData:
		return "pto (Application Data)"
	default:
		return fmt.Sprintf("invalid send mode: %d", uint8(s))
	}
}
