package channel

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePacketRoundTrip(t *testing.T) {
	h := Header{Seq: 42, Ack: 41, AckBits: 0b1011}
	messages := []WireMessage{
		{ChannelID: 0, MessageID: 1, Payload: []byte("hello")},
		{ChannelID: 0, MessageID: 2, Payload: []byte("world")},
		{ChannelID: 3, MessageID: 100, Payload: []byte{}},
	}

	data := EncodePacket(h, messages)
	gotHeader, gotMessages, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if gotHeader != h {
		t.Fatalf("header mismatch: got %+v want %+v", gotHeader, h)
	}
	if len(gotMessages) != len(messages) {
		t.Fatalf("got %d messages, want %d", len(gotMessages), len(messages))
	}

	byChannel := make(map[ID]int)
	for _, m := range gotMessages {
		byChannel[m.ChannelID]++
	}
	if byChannel[0] != 2 || byChannel[3] != 1 {
		t.Fatalf("unexpected channel grouping: %+v", byChannel)
	}

	for i, want := range messages {
		got := findByMessageID(gotMessages, want.MessageID)
		if got == nil {
			t.Fatalf("message %d: %v not found after round trip", i, want.MessageID)
		}
		if got.ChannelID != want.ChannelID {
			t.Errorf("message %d: channel id got %v want %v", i, got.ChannelID, want.ChannelID)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("message %d: payload got %q want %q", i, got.Payload, want.Payload)
		}
		if got.Fragment.IsFragment {
			t.Errorf("message %d: expected non-fragment", i)
		}
	}
}

func TestEncodeDecodeFragmentedMessage(t *testing.T) {
	h := Header{Seq: 1}
	messages := []WireMessage{
		{ChannelID: 5, MessageID: 9, Fragment: FragInfo{IsFragment: true, FragID: 0, NumFrags: 2}, Payload: []byte("abcd")},
		{ChannelID: 5, MessageID: 9, Fragment: FragInfo{IsFragment: true, FragID: 1, NumFrags: 2}, Payload: []byte("efgh")},
	}
	data := EncodePacket(h, messages)
	_, got, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	for i, m := range got {
		if !m.Fragment.IsFragment || m.Fragment.NumFrags != 2 {
			t.Fatalf("message %d: expected fragment info preserved, got %+v", i, m.Fragment)
		}
	}
}

func TestDecodePacketMalformedInput(t *testing.T) {
	cases := [][]byte{
		nil,
		{1, 2, 3},
		EncodePacket(Header{}, []WireMessage{{ChannelID: 0, MessageID: 1, Payload: []byte("x")}})[:5],
	}
	for i, data := range cases {
		if _, _, err := DecodePacket(data); err == nil {
			t.Errorf("case %d: expected error decoding truncated/malformed packet", i)
		}
	}
}

func TestEncodeEmptyPacket(t *testing.T) {
	data := EncodePacket(Header{Seq: 7, Ack: 6}, nil)
	h, messages, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if h.Seq != 7 || h.Ack != 6 {
		t.Fatalf("header mismatch: %+v", h)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(messages))
	}
}

func findByMessageID(messages []WireMessage, id MessageID) *WireMessage {
	for i := range messages {
		if messages[i].MessageID == id {
			return &messages[i]
		}
	}
	return nil
}
