package channel

import (
	"fmt"

	"driftnet/pkg/codec"
)

// Header is the fixed-size per-packet header from spec.md section 6:
// packet_seq:u16 ack:u16 ack_bits:u32.
type Header struct {
	Seq     uint16
	Ack     uint16
	AckBits uint32
}

// FragInfo marks whether a Message is one fragment of a larger message that
// exceeded the MTU, per spec.md section 4.4.
type FragInfo struct {
	IsFragment bool
	FragID     uint8
	NumFrags   uint8
}

// WireMessage is one (channel_id, message) entry inside a packet's payload.
type WireMessage struct {
	ChannelID ID
	MessageID MessageID
	Fragment  FragInfo
	Payload   []byte
}

// EncodePacket serializes a header plus a flat list of wire messages,
// grouped by channel, following the Packet/Payload/ChannelBlock/Message
// grammar of spec.md section 6.
func EncodePacket(h Header, messages []WireMessage) []byte {
	w := codec.NewWriter(64 + 16*len(messages))
	w.WriteUint16(h.Seq)
	w.WriteUint16(h.Ack)
	w.WriteUint32(h.AckBits)

	grouped := make(map[ID][]WireMessage)
	var order []ID
	for _, m := range messages {
		if _, ok := grouped[m.ChannelID]; !ok {
			order = append(order, m.ChannelID)
		}
		grouped[m.ChannelID] = append(grouped[m.ChannelID], m)
	}

	w.WriteVarint(uint64(len(order)))
	for _, chID := range order {
		msgs := grouped[chID]
		w.WriteVarint(uint64(chID))
		w.WriteVarint(uint64(len(msgs)))
		for _, m := range msgs {
			w.WriteUint16(uint16(m.MessageID))
			encodeFragInfo(w, m.Fragment)
			w.WritePayload(m.Payload)
		}
	}
	return w.Bytes()
}

// DecodePacket parses bytes produced by EncodePacket. Malformed input
// returns an error; per spec.md section 4.4 the caller should drop and log
// rather than treat this as fatal.
func DecodePacket(data []byte) (Header, []WireMessage, error) {
	r := codec.NewReader(data)
	var h Header
	var err error
	if h.Seq, err = r.ReadUint16(); err != nil {
		return h, nil, fmt.Errorf("channel: decode header seq: %w", err)
	}
	if h.Ack, err = r.ReadUint16(); err != nil {
		return h, nil, fmt.Errorf("channel: decode header ack: %w", err)
	}
	if h.AckBits, err = r.ReadUint32(); err != nil {
		return h, nil, fmt.Errorf("channel: decode header ack_bits: %w", err)
	}

	numChannels, err := r.ReadVarint()
	if err != nil {
		return h, nil, fmt.Errorf("channel: decode num_channels: %w", err)
	}

	var messages []WireMessage
	for c := uint64(0); c < numChannels; c++ {
		chID, err := r.ReadVarint()
		if err != nil {
			return h, nil, fmt.Errorf("channel: decode channel_id: %w", err)
		}
		numMessages, err := r.ReadVarint()
		if err != nil {
			return h, nil, fmt.Errorf("channel: decode num_messages: %w", err)
		}
		for i := uint64(0); i < numMessages; i++ {
			mid, err := r.ReadUint16()
			if err != nil {
				return h, nil, fmt.Errorf("channel: decode message_id: %w", err)
			}
			frag, err := decodeFragInfo(r)
			if err != nil {
				return h, nil, fmt.Errorf("channel: decode fragment: %w", err)
			}
			payload, err := r.ReadPayload()
			if err != nil {
				return h, nil, fmt.Errorf("channel: decode payload: %w", err)
			}
			payloadCopy := append([]byte(nil), payload...)
			messages = append(messages, WireMessage{
				ChannelID: ID(chID),
				MessageID: MessageID(mid),
				Fragment:  frag,
				Payload:   payloadCopy,
			})
		}
	}
	return h, messages, nil
}

func encodeFragInfo(w *codec.Writer, f FragInfo) {
	if !f.IsFragment {
		w.WriteByte(0)
		return
	}
	w.WriteByte(1)
	w.WriteByte(f.FragID)
	w.WriteByte(f.NumFrags)
}

func decodeFragInfo(r *codec.Reader) (FragInfo, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return FragInfo{}, err
	}
	if flag == 0 {
		return FragInfo{}, nil
	}
	fragID, err := r.ReadByte()
	if err != nil {
		return FragInfo{}, err
	}
	numFrags, err := r.ReadByte()
	if err != nil {
		return FragInfo{}, err
	}
	return FragInfo{IsFragment: true, FragID: fragID, NumFrags: numFrags}, nil
}
