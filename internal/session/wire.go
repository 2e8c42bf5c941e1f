// Package session provides the application-facing orchestration layer
// spec.md section 5 describes: the ReceivePhase/SendPhase pair an
// embedding program drives once per frame, wiring tick, rtt, clocksync,
// channel, replication, prediction, and interpolation into one
// ServerApp/ClientApp/HostServerApp, the direct analogue of the
// teacher's internal/server.Server.
package session

import (
	"fmt"
	"time"

	"driftnet/internal/tick"
	"driftnet/pkg/codec"
)

// Channel ids multiplexed over one connection's channel.Manager.
// Actions need reliable, strictly-ordered delivery (spec.md section 4.5's
// per-group sequence ids); updates are unreliable and only the newest
// matters per group (sequenced, not ordered); control carries ping/pong
// and rides unordered-unreliable since a stale pong is simply ignored by
// the RTT estimator's ping id check.
const (
	ActionChannelID  = 0
	UpdateChannelID  = 1
	ControlChannelID = 2
)

// controlKind tags a Payload inside the control channel, since pings and
// pongs share one channel.
type controlKind uint8

const (
	controlPing controlKind = iota
	controlPong
)

// wirePing/wirePong mirror spec.md section 6's Ping/Pong grammar exactly:
// Ping := id:u16 send_time:u64
// Pong := ping_id:u16 ping_recv_time:u64 pong_send_time:u64 server_tick:u16
type wirePing struct {
	ID       uint16
	SendTime time.Time
}

type wirePong struct {
	PingID       uint16
	PingRecvTime time.Time
	PongSendTime time.Time
	ServerTick   tick.Tick
}

func encodeTime(t time.Time) uint64 { return uint64(t.UnixNano()) }
func decodeTime(v uint64) time.Time { return time.Unix(0, int64(v)) }

func encodePing(p wirePing) []byte {
	w := codec.NewWriter(11)
	w.WriteByte(byte(controlPing))
	w.WriteUint16(p.ID)
	w.WriteUint64(encodeTime(p.SendTime))
	return w.Bytes()
}

func encodePong(p wirePong) []byte {
	w := codec.NewWriter(21)
	w.WriteByte(byte(controlPong))
	w.WriteUint16(p.PingID)
	w.WriteUint64(encodeTime(p.PingRecvTime))
	w.WriteUint64(encodeTime(p.PongSendTime))
	w.WriteUint16(uint16(p.ServerTick))
	return w.Bytes()
}

// decodeControl decodes a control-channel payload into either a wirePing
// or a wirePong, leaving the other zero-valued.
func decodeControl(data []byte) (kind controlKind, ping wirePing, pong wirePong, err error) {
	r := codec.NewReader(data)
	k, err := r.ReadByte()
	if err != nil {
		return 0, wirePing{}, wirePong{}, fmt.Errorf("session: decode control kind: %w", err)
	}
	kind = controlKind(k)
	switch kind {
	case controlPing:
		id, err := r.ReadUint16()
		if err != nil {
			return 0, wirePing{}, wirePong{}, fmt.Errorf("session: decode ping id: %w", err)
		}
		sendTime, err := r.ReadUint64()
		if err != nil {
			return 0, wirePing{}, wirePong{}, fmt.Errorf("session: decode ping send_time: %w", err)
		}
		return kind, wirePing{ID: id, SendTime: decodeTime(sendTime)}, wirePong{}, nil
	case controlPong:
		id, err := r.ReadUint16()
		if err != nil {
			return 0, wirePing{}, wirePong{}, fmt.Errorf("session: decode pong ping_id: %w", err)
		}
		recvTime, err := r.ReadUint64()
		if err != nil {
			return 0, wirePing{}, wirePong{}, fmt.Errorf("session: decode pong ping_recv_time: %w", err)
		}
		sendTime, err := r.ReadUint64()
		if err != nil {
			return 0, wirePing{}, wirePong{}, fmt.Errorf("session: decode pong pong_send_time: %w", err)
		}
		serverTick, err := r.ReadUint16()
		if err != nil {
			return 0, wirePing{}, wirePong{}, fmt.Errorf("session: decode pong server_tick: %w", err)
		}
		return kind, wirePing{}, wirePong{PingID: id, PingRecvTime: decodeTime(recvTime), PongSendTime: decodeTime(sendTime), ServerTick: tick.Tick(serverTick)}, nil
	default:
		return 0, wirePing{}, wirePong{}, fmt.Errorf("session: unknown control kind %d", k)
	}
}

// framePacket prefixes a channel.Manager-built packet with the sender's
// current tick. spec.md section 6's ActionMsg/UpdateMsg wire grammar
// carries no tick field of its own (UpdateMsg's last_action_tick gates
// against the group's action cursor, not the message's own send tick),
// yet internal/replication.Receiver.RecvAction/RecvUpdate need the tick a
// message was sent at to stamp AppliedAction/AppliedUpdate and drive
// P3/P4's monotonic latest_tick tracking. Every message built into one
// packet by Sender.Build shares that packet's currentTick (section 5:
// "within one tick on the server, all outbound sends for that tick are
// emitted before the next tick's state is sampled"), so a single 2-byte
// prefix per packet is sufficient and adds nothing to the per-message
// grammar spec.md fixes.
func framePacket(t tick.Tick, packet []byte) []byte {
	w := codec.NewWriter(2 + len(packet))
	w.WriteUint16(uint16(t))
	w.WriteBytes(packet)
	return w.Bytes()
}

// unframePacket splits a received datagram back into its sender tick and
// the channel.Manager packet bytes.
func unframePacket(data []byte) (tick.Tick, []byte, error) {
	r := codec.NewReader(data)
	t, err := r.ReadUint16()
	if err != nil {
		return 0, nil, fmt.Errorf("session: unframe packet tick: %w", err)
	}
	rest, err := r.ReadBytes(r.Remaining())
	if err != nil {
		return 0, nil, fmt.Errorf("session: unframe packet body: %w", err)
	}
	return tick.Tick(t), rest, nil
}
