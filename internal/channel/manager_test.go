package channel

import (
	"bytes"
	"testing"
	"time"
)

func TestUnreliableDeliveryPassesThrough(t *testing.T) {
	sender := NewManager(1200, 100*time.Millisecond)
	receiver := NewManager(1200, 100*time.Millisecond)
	sender.RegisterChannel(0, UnorderedUnreliable, 0)
	receiver.RegisterChannel(0, UnorderedUnreliable, 0)

	if _, err := sender.Enqueue(0, []byte("ping")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	packet := sender.BuildPacket(time.Now())

	deliveries, err := receiver.OnPacketReceived(packet)
	if err != nil {
		t.Fatalf("OnPacketReceived: %v", err)
	}
	if len(deliveries) != 1 || !bytes.Equal(deliveries[0].Payload, []byte("ping")) {
		t.Fatalf("unexpected deliveries: %+v", deliveries)
	}
}

func TestReliableMessageRetransmitsUntilAcked(t *testing.T) {
	sender := NewManager(1200, 10*time.Millisecond)
	receiver := NewManager(1200, 10*time.Millisecond)
	sender.RegisterChannel(1, UnorderedReliable, 16)
	receiver.RegisterChannel(1, UnorderedReliable, 16)

	now := time.Now()
	if _, err := sender.Enqueue(1, []byte("important")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first := sender.BuildPacket(now)
	if sender.PendingBacklog(1) != 1 {
		t.Fatalf("expected 1 pending message before ack, got %d", sender.PendingBacklog(1))
	}

	// Receiver never got the packet; sender retries after retryInterval.
	later := now.Add(20 * time.Millisecond)
	second := sender.BuildPacket(later)
	if len(second) <= 8 {
		t.Fatalf("expected retransmission to re-include payload, got %d bytes", len(second))
	}
	_ = first

	deliveries, err := receiver.OnPacketReceived(second)
	if err != nil {
		t.Fatalf("OnPacketReceived: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}

	// Feed the receiver's ack back to the sender; backlog should clear.
	ackPacket := receiver.BuildPacket(later.Add(time.Millisecond))
	if _, err := sender.OnPacketReceived(ackPacket); err != nil {
		t.Fatalf("OnPacketReceived (ack): %v", err)
	}
	if sender.PendingBacklog(1) != 0 {
		t.Fatalf("expected backlog cleared after ack, got %d", sender.PendingBacklog(1))
	}
}

func TestReliableChannelSaturates(t *testing.T) {
	sender := NewManager(1200, time.Hour)
	sender.RegisterChannel(2, OrderedReliable, 2)

	if _, err := sender.Enqueue(2, []byte("a")); err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	if _, err := sender.Enqueue(2, []byte("b")); err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}
	if _, err := sender.Enqueue(2, []byte("c")); err != ErrChannelSaturated {
		t.Fatalf("expected ErrChannelSaturated, got %v", err)
	}
}

func TestOrderedReliableBuffersOutOfOrderArrivals(t *testing.T) {
	sender := NewManager(1200, time.Hour)
	receiver := NewManager(1200, time.Hour)
	sender.RegisterChannel(4, OrderedReliable, 16)
	receiver.RegisterChannel(4, OrderedReliable, 16)

	now := time.Now()
	sender.Enqueue(4, []byte("one"))
	packetOne := sender.BuildPacket(now)
	sender.Enqueue(4, []byte("two"))
	packetTwo := sender.BuildPacket(now)

	// Deliver out of order: packetTwo first should be withheld.
	deliveries, err := receiver.OnPacketReceived(packetTwo)
	if err != nil {
		t.Fatalf("OnPacketReceived packetTwo: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected message withheld pending in-order predecessor, got %+v", deliveries)
	}

	deliveries, err = receiver.OnPacketReceived(packetOne)
	if err != nil {
		t.Fatalf("OnPacketReceived packetOne: %v", err)
	}
	if len(deliveries) != 2 {
		t.Fatalf("expected both messages released in order, got %d", len(deliveries))
	}
	if string(deliveries[0].Payload) != "one" || string(deliveries[1].Payload) != "two" {
		t.Fatalf("unexpected order: %+v", deliveries)
	}
}

func TestSequencedUnreliableDropsStaleMessages(t *testing.T) {
	sender := NewManager(1200, time.Hour)
	receiver := NewManager(1200, time.Hour)
	sender.RegisterChannel(6, SequencedUnreliable, 0)
	receiver.RegisterChannel(6, SequencedUnreliable, 0)

	now := time.Now()
	sender.Enqueue(6, []byte("old"))
	packetOld := sender.BuildPacket(now)
	sender.Enqueue(6, []byte("new"))
	packetNew := sender.BuildPacket(now)

	if _, err := receiver.OnPacketReceived(packetNew); err != nil {
		t.Fatalf("OnPacketReceived packetNew: %v", err)
	}
	deliveries, err := receiver.OnPacketReceived(packetOld)
	if err != nil {
		t.Fatalf("OnPacketReceived packetOld: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected stale message dropped, got %+v", deliveries)
	}
}

func TestFragmentedMessageReassembledAcrossPackets(t *testing.T) {
	sender := NewManager(4, time.Hour) // tiny MTU forces fragmentation
	receiver := NewManager(4, time.Hour)
	sender.RegisterChannel(7, UnorderedUnreliable, 0)
	receiver.RegisterChannel(7, UnorderedUnreliable, 0)

	payload := []byte("0123456789AB")
	if _, err := sender.Enqueue(7, payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	packet := sender.BuildPacket(time.Now())
	deliveries, err := receiver.OnPacketReceived(packet)
	if err != nil {
		t.Fatalf("OnPacketReceived: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected reassembled message delivered once, got %d", len(deliveries))
	}
	if !bytes.Equal(deliveries[0].Payload, payload) {
		t.Fatalf("reassembled payload mismatch: got %q want %q", deliveries[0].Payload, payload)
	}
}
