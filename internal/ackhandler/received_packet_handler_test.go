package ackhandler

import (
	"time"

	"github.com/minq-project/minq/internal/protocol"
	"github.com/minq-project/minq/internal/utils"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type mockSentPacketTracker struct {
	lowestNotConfirmedAcked protocol.PacketNumber
	receivedAt              []protocol.EncryptionLevel
}

func (t *mockSentPacketTracker) GetLowestPacketNotConfirmedAcked() protocol.PacketNumber {
	return t.lowestNotConfirmedAcked
}

func (t *mockSentPacketTracker) ReceivedPacket(encLevel protocol.EncryptionLevel) {
	t.receivedAt = append(t.receivedAt, encLevel)
}

var _ = Describe("Received Packet Handler", func() {
	var (
		handler     *receivedPacketHandler
		sentTracker *mockSentPacketTracker
		rttStats    *utils.RTTStats
	)

	BeforeEach(func() {
		sentTracker = &mockSentPacketTracker{}
		rttStats = &utils.RTTStats{}
		handler = newReceivedPacketHandler(sentTracker, rttStats, utils.DefaultLogger, protocol.VersionWhatever)
	})

	It("multiplexes one tracker per packet number space", func() {
		Expect(handler.initial).ToNot(BeNil())
		Expect(handler.handshake).ToNot(BeNil())
		Expect(handler.appData).ToNot(BeNil())
		Expect(handler.initial).ToNot(BeIdenticalTo(handler.handshake))
		Expect(handler.handshake).ToNot(BeIdenticalTo(handler.appData))
	})

	It("routes 0-RTT and 1-RTT packets to the same tracker", func() {
		handler.ReceivedPacket(1, protocol.ECNNon, protocol.Encryption0RTT, time.Now(), true)
		handler.ReceivedPacket(2, protocol.ECNNon, protocol.Encryption1RTT, time.Now(), true)
		Expect(handler.appData.largestObserved).To(Equal(protocol.PacketNumber(2)))
	})

	It("notifies the sent-packet tracker of every received packet, keyed by encryption level", func() {
		handler.ReceivedPacket(1, protocol.ECNNon, protocol.EncryptionInitial, time.Now(), true)
		handler.ReceivedPacket(2, protocol.ECNNon, protocol.EncryptionHandshake, time.Now(), true)
		handler.ReceivedPacket(3, protocol.ECNNon, protocol.Encryption1RTT, time.Now(), true)
		Expect(sentTracker.receivedAt).To(Equal([]protocol.EncryptionLevel{
			protocol.EncryptionInitial, protocol.EncryptionHandshake, protocol.Encryption1RTT,
		}))
	})

	It("reports potential duplicates within the correct packet number space", func() {
		handler.ReceivedPacket(5, protocol.ECNNon, protocol.Encryption1RTT, time.Now(), true)
		Expect(handler.IsPotentiallyDuplicate(5, protocol.Encryption1RTT)).To(BeTrue())
		Expect(handler.IsPotentiallyDuplicate(5, protocol.EncryptionInitial)).To(BeFalse())
	})

	Context("dropping packet number spaces", func() {
		It("drops the Initial packet number space", func() {
			handler.DropPackets(protocol.EncryptionInitial)
			Expect(handler.initial).To(BeNil())
			Expect(handler.handshake).ToNot(BeNil())
			Expect(handler.appData).ToNot(BeNil())
		})

		It("drops the Handshake packet number space", func() {
			handler.DropPackets(protocol.EncryptionHandshake)
			Expect(handler.handshake).To(BeNil())
		})

		It("ignores received packets for a dropped packet number space", func() {
			handler.DropPackets(protocol.EncryptionInitial)
			Expect(handler.IsPotentiallyDuplicate(1, protocol.EncryptionInitial)).To(BeTrue())
			handler.ReceivedPacket(1, protocol.ECNNon, protocol.EncryptionInitial, time.Now(), true)
			Expect(handler.GetAckFrame(protocol.EncryptionInitial, false)).To(BeNil())
		})

		It("panics when asked to drop the application data packet number space", func() {
			Expect(func() { handler.DropPackets(protocol.Encryption1RTT) }).To(Panic())
		})
	})

	Context("alarms", func() {
		It("has no alarm before any ack-eliciting packet arrives", func() {
			Expect(handler.GetAlarmTimeout().IsZero()).To(BeTrue())
		})

		It("returns the earliest deadline across all active packet number spaces", func() {
			now := time.Now()
			handler.ReceivedPacket(1, protocol.ECNNon, protocol.EncryptionHandshake, now, true)
			handler.ReceivedPacket(2, protocol.ECNNon, protocol.Encryption1RTT, now.Add(time.Second), true)
			deadline := handler.GetAlarmTimeout()
			Expect(deadline).To(Equal(handler.handshake.GetAlarmTimeout()))
		})

		It("ignores dropped packet number spaces when computing the earliest deadline", func() {
			now := time.Now()
			handler.ReceivedPacket(1, protocol.ECNNon, protocol.EncryptionInitial, now, true)
			handler.DropPackets(protocol.EncryptionInitial)
			Expect(handler.GetAlarmTimeout().IsZero()).To(BeTrue())
		})
	})

	Context("ACK frames", func() {
		It("returns nil for a packet number space that never saw a packet", func() {
			Expect(handler.GetAckFrame(protocol.EncryptionHandshake, true)).To(BeNil())
		})

		It("returns an ACK frame for a packet number space that received a packet", func() {
			handler.ReceivedPacket(1, protocol.ECNNon, protocol.Encryption1RTT, time.Now(), true)
			ack := handler.GetAckFrame(protocol.Encryption1RTT, false)
			Expect(ack).ToNot(BeNil())
			Expect(ack.LargestAcked()).To(Equal(protocol.PacketNumber(1)))
		})
	})
})
