package transport

import (
	"bytes"
	"testing"
)

func TestMemoryPairDeliversBothDirections(t *testing.T) {
	a, b := NewMemoryPair(4)

	if err := a.Send([]byte("ping")); err != nil {
		t.Fatalf("a.Send: %v", err)
	}
	data, ok := b.TryRecv()
	if !ok || !bytes.Equal(data, []byte("ping")) {
		t.Fatalf("b.TryRecv() = %q, %v", data, ok)
	}

	if err := b.Send([]byte("pong")); err != nil {
		t.Fatalf("b.Send: %v", err)
	}
	data, ok = a.TryRecv()
	if !ok || !bytes.Equal(data, []byte("pong")) {
		t.Fatalf("a.TryRecv() = %q, %v", data, ok)
	}
}

func TestMemoryTransportTryRecvNonBlockingWhenEmpty(t *testing.T) {
	a, _ := NewMemoryPair(4)
	if _, ok := a.TryRecv(); ok {
		t.Fatal("expected no data available")
	}
}

func TestMemoryTransportSendAfterCloseErrors(t *testing.T) {
	a, _ := NewMemoryPair(4)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Send([]byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestMemoryTransportDropsWhenBufferFull(t *testing.T) {
	a, _ := NewMemoryPair(1)
	if err := a.Send([]byte("first")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Send([]byte("second")); err != nil {
		t.Fatalf("Send (should drop, not error): %v", err)
	}
}
