package ackhandler

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"

	"github.com/minq-project/minq/internal/protocol"
)

// packetNumberGenerator generates the packet number for the next packet.
// Pop returns whether a packet number was skipped as part of this call, in
// addition to the packet number to use.
type packetNumberGenerator interface {
	Peek() protocol.PacketNumber
	Pop() (skipped bool, pn protocol.PacketNumber)
}

// sequentialPacketNumberGenerator hands out packet numbers one after the
// other, without ever skipping one. It's used for the Initial and Handshake
// packet number spaces, where skipping packet numbers serves no purpose.
type sequentialPacketNumberGenerator struct {
	next protocol.PacketNumber
}

func newSequentialPacketNumberGenerator(initial protocol.PacketNumber) packetNumberGenerator {
	return &sequentialPacketNumberGenerator{next: initial}
}

func (p *sequentialPacketNumberGenerator) Peek() protocol.PacketNumber {
	return p.next
}

func (p *sequentialPacketNumberGenerator) Pop() (bool, protocol.PacketNumber) {
	next := p.next
	p.next++
	return false, next
}

// skippingPacketNumberGenerator generates the packet number for the next
// packet. It randomly skips a packet number every period packets (on
// average). The period doubles every time a packet number is skipped, up to
// maxPeriod, making it increasingly unlikely that an off-path attacker that
// can't read the packet's plaintext guesses a packet number correctly. It is
// guaranteed to never skip two consecutive packet numbers.
type skippingPacketNumberGenerator struct {
	rand *mrand.Rand

	period, maxPeriod protocol.PacketNumber

	next       protocol.PacketNumber
	nextToSkip protocol.PacketNumber
}

func newSkippingPacketNumberGenerator(initial, initialPeriod, maxPeriod protocol.PacketNumber) packetNumberGenerator {
	b := make([]byte, 8)
	rand.Read(b) // it's not the end of the world if we don't get perfect random here
	g := &skippingPacketNumberGenerator{
		rand:      mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(b)))),
		next:      initial,
		period:    initialPeriod,
		maxPeriod: maxPeriod,
	}
	g.generateNewSkip()
	return g
}

func (p *skippingPacketNumberGenerator) Peek() protocol.PacketNumber {
	return p.next
}

func (p *skippingPacketNumberGenerator) Pop() (bool, protocol.PacketNumber) {
	next := p.next
	p.next++

	var skipped bool
	if p.next == p.nextToSkip {
		skipped = true
		p.next++
		p.generateNewSkip()
	}
	return skipped, next
}

func (p *skippingPacketNumberGenerator) generateNewSkip() {
	// make sure that there are never two consecutive packet numbers that are skipped
	p.nextToSkip = p.next + 2 + protocol.PacketNumber(p.rand.Int31n(int32(2*p.period)))
	p.period *= 2
	if p.period > p.maxPeriod || p.period <= 0 {
		p.period = p.maxPeriod
	}
}
