package rtt

import (
	"testing"
	"time"
)

func TestPingPongBasicRTT(t *testing.T) {
	e := NewEstimator(100*time.Millisecond, time.Second)
	start := time.Now()

	ping := e.IssuePing(start)
	pong := Pong{
		PingID:       ping.ID,
		PingRecvTime: start.Add(20 * time.Millisecond),
		PongSendTime: start.Add(25 * time.Millisecond), // 5ms peer processing
	}
	now := start.Add(40 * time.Millisecond) // 40ms round trip observed
	sample, err := e.OnPong(pong, now)
	if err != nil {
		t.Fatalf("OnPong: %v", err)
	}
	want := 35 * time.Millisecond // 40ms round trip - 5ms processing
	if sample != want {
		t.Fatalf("sample = %v, want %v", sample, want)
	}
	if e.RTT() != want {
		t.Fatalf("RTT() = %v, want %v (first sample seeds estimate)", e.RTT(), want)
	}
}

func TestUnknownPongRejected(t *testing.T) {
	e := NewEstimator(100*time.Millisecond, time.Second)
	_, err := e.OnPong(Pong{PingID: 99}, time.Now())
	if err == nil {
		t.Fatal("expected error for pong with no matching ping")
	}
}

func TestShouldPingCadence(t *testing.T) {
	e := NewEstimator(50*time.Millisecond, time.Second)
	start := time.Now()
	if !e.ShouldPing(start) {
		t.Fatal("expected initial ShouldPing to be true")
	}
	e.IssuePing(start)
	if e.ShouldPing(start.Add(10 * time.Millisecond)) {
		t.Fatal("ShouldPing too early")
	}
	if !e.ShouldPing(start.Add(60 * time.Millisecond)) {
		t.Fatal("ShouldPing should fire after interval elapses")
	}
}

func TestTimedOutNoEstimateYet(t *testing.T) {
	e := NewEstimator(10*time.Millisecond, 100*time.Millisecond)
	start := time.Now()
	e.IssuePing(start)
	if e.TimedOut(start.Add(50 * time.Millisecond)) {
		t.Fatal("should not be timed out before timeout elapses")
	}
	if !e.TimedOut(start.Add(200 * time.Millisecond)) {
		t.Fatal("expected timeout after no pong for timeout duration")
	}
}
