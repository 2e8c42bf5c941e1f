package session

import (
	"bytes"
	"testing"
	"time"

	"driftnet/internal/tick"
)

func TestPingPongRoundTrip(t *testing.T) {
	sendTime := time.Unix(1_700_000_000, 123456000)
	ping := wirePing{ID: 42, SendTime: sendTime}

	kind, gotPing, _, err := decodeControl(encodePing(ping))
	if err != nil {
		t.Fatalf("decodeControl(ping): %v", err)
	}
	if kind != controlPing {
		t.Fatalf("kind = %v, want controlPing", kind)
	}
	if gotPing.ID != ping.ID || !gotPing.SendTime.Equal(ping.SendTime) {
		t.Fatalf("roundtrip ping = %+v, want %+v", gotPing, ping)
	}

	pong := wirePong{
		PingID:       42,
		PingRecvTime: sendTime.Add(10 * time.Millisecond),
		PongSendTime: sendTime.Add(11 * time.Millisecond),
		ServerTick:   tick.Tick(7777),
	}
	kind, _, gotPong, err := decodeControl(encodePong(pong))
	if err != nil {
		t.Fatalf("decodeControl(pong): %v", err)
	}
	if kind != controlPong {
		t.Fatalf("kind = %v, want controlPong", kind)
	}
	if gotPong.PingID != pong.PingID ||
		!gotPong.PingRecvTime.Equal(pong.PingRecvTime) ||
		!gotPong.PongSendTime.Equal(pong.PongSendTime) ||
		gotPong.ServerTick != pong.ServerTick {
		t.Fatalf("roundtrip pong = %+v, want %+v", gotPong, pong)
	}
}

func TestDecodeControlUnknownKind(t *testing.T) {
	if _, _, _, err := decodeControl([]byte{0xFF}); err == nil {
		t.Fatal("expected error for unknown control kind")
	}
}

func TestFramePacketRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	framed := framePacket(tick.Tick(65001), payload)

	gotTick, gotPayload, err := unframePacket(framed)
	if err != nil {
		t.Fatalf("unframePacket: %v", err)
	}
	if gotTick != tick.Tick(65001) {
		t.Fatalf("tick = %d, want 65001", gotTick)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload = %v, want %v", gotPayload, payload)
	}
}

func TestFramePacketEmptyPayload(t *testing.T) {
	framed := framePacket(tick.Tick(0), nil)
	gotTick, gotPayload, err := unframePacket(framed)
	if err != nil {
		t.Fatalf("unframePacket: %v", err)
	}
	if gotTick != 0 {
		t.Fatalf("tick = %d, want 0", gotTick)
	}
	if len(gotPayload) != 0 {
		t.Fatalf("payload = %v, want empty", gotPayload)
	}
}
