package channel

import (
	"errors"
	"fmt"
	"time"
)

// ErrChannelSaturated is the fatal-to-the-connection error of spec.md
// section 4.4/7: a reliable channel's unacked backlog exceeded its bound.
var ErrChannelSaturated = errors.New("channel: reliable backlog saturated")

const ackWindow = 32 // matches the u32 ack_bits field's bit width

type reliableOutbound struct {
	nextID       MessageID
	pending      map[MessageID]*pendingMessage
	maxBacklog   int
}

type pendingMessage struct {
	fragments  [][]byte // payload split into MTU-sized fragments (len==1 if unfragmented)
	lastSeq    uint16
	lastSentAt time.Time
}

type orderedInbound struct {
	nextExpected MessageID
	buffered     map[MessageID][]byte
}

type sequencedInbound struct {
	hasLatest bool
	latest    MessageID
}

// Delivery is one fully-reassembled, order-satisfying message handed up to
// the application layer (the replication layer, in driftnet's case).
type Delivery struct {
	ChannelID ID
	Payload   []byte
}

// Manager implements spec.md section 4.4: per-channel ordering and
// reliability over a packet-level abstraction, with MTU-driven
// fragmentation and reassembly.
type Manager struct {
	mtu             int
	retryInterval   time.Duration
	modes           map[ID]Mode
	outbound        map[ID]*reliableOutbound
	orderedInbound  map[ID]*orderedInbound
	sequencedInbound map[ID]*sequencedInbound
	reassembly      map[ID]map[MessageID]*reassemblyState

	localSeq    uint16
	sentPackets map[uint16]map[ID][]MessageID // bounded window, oldest evicted

	recvSeqSeen map[uint16]bool
	lastRecvSeq uint16
	haveRecvSeq bool

	unreliableQueues map[ID][]unreliableEntry
	nextUnreliableID map[ID]uint16
}

type reassemblyState struct {
	total   uint8
	parts   map[uint8][]byte
}

// NewManager creates a Manager with the given MTU (payload bytes per
// packet before fragmentation kicks in) and reliable retry interval.
func NewManager(mtu int, retryInterval time.Duration) *Manager {
	return &Manager{
		mtu:              mtu,
		retryInterval:    retryInterval,
		modes:            make(map[ID]Mode),
		outbound:         make(map[ID]*reliableOutbound),
		orderedInbound:   make(map[ID]*orderedInbound),
		sequencedInbound: make(map[ID]*sequencedInbound),
		reassembly:       make(map[ID]map[MessageID]*reassemblyState),
		sentPackets:      make(map[uint16]map[ID][]MessageID),
		recvSeqSeen:      make(map[uint16]bool),
	}
}

// RegisterChannel assigns mode to id, with maxBacklog bounding a reliable
// channel's unacked-message backlog (ignored for unreliable modes).
func (m *Manager) RegisterChannel(id ID, mode Mode, maxBacklog int) {
	m.modes[id] = mode
	if mode.reliable() {
		m.outbound[id] = &reliableOutbound{pending: make(map[MessageID]*pendingMessage), maxBacklog: maxBacklog}
	}
	if mode.ordered() {
		m.orderedInbound[id] = &orderedInbound{buffered: make(map[MessageID][]byte)}
	}
	if mode.sequenced() {
		m.sequencedInbound[id] = &sequencedInbound{}
	}
	m.reassembly[id] = make(map[MessageID]*reassemblyState)
}

// Enqueue hands payload to channel id for sending on the next BuildPacket
// call. For reliable channels this allocates the next MessageID and keeps
// the payload (fragmented if needed) until acked or ErrChannelSaturated is
// returned.
func (m *Manager) Enqueue(id ID, payload []byte) (MessageID, error) {
	mode, ok := m.modes[id]
	if !ok {
		return 0, fmt.Errorf("channel: %d not registered", id)
	}
	fragments := fragment(payload, m.mtu)

	if !mode.reliable() {
		// Unreliable sends are fire-and-forget: the caller's BuildPacket
		// pass picks them up via the pending outbound queue too, but we
		// don't retain them after one send attempt. We model this with a
		// one-shot reliableOutbound-like entry living in a throwaway
		// channel send list instead of the acked bookkeeping path.
		return m.enqueueUnreliable(id, fragments)
	}

	ch := m.outbound[id]
	if len(ch.pending) >= ch.maxBacklog {
		return 0, ErrChannelSaturated
	}
	mid := ch.nextID
	ch.nextID = ch.nextID.Next()
	ch.pending[mid] = &pendingMessage{fragments: fragments}
	return mid, nil
}

// unreliableEntry is one one-shot send awaiting its single packet.
type unreliableEntry struct {
	id        MessageID
	fragments [][]byte
}

func (m *Manager) enqueueUnreliable(id ID, fragments [][]byte) (MessageID, error) {
	if m.unreliableQueues == nil {
		m.unreliableQueues = make(map[ID][]unreliableEntry)
		m.nextUnreliableID = make(map[ID]uint16)
	}
	mid := m.nextUnreliableID[id]
	m.unreliableQueues[id] = append(m.unreliableQueues[id], unreliableEntry{id: MessageID(mid), fragments: fragments})
	m.nextUnreliableID[id] = mid + 1
	return MessageID(mid), nil
}

// fragment splits payload into chunks no larger than mtu. A single chunk
// equal to payload (possibly empty) means "not fragmented".
func fragment(payload []byte, mtu int) [][]byte {
	if mtu <= 0 || len(payload) <= mtu {
		return [][]byte{payload}
	}
	var out [][]byte
	for start := 0; start < len(payload); start += mtu {
		end := start + mtu
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, payload[start:end])
	}
	return out
}

// BuildPacket drains everything currently eligible to send (all unreliable
// one-shots, plus reliable messages never sent or due for retransmission)
// into one encoded packet, honoring retryInterval for reliable backoff.
func (m *Manager) BuildPacket(now time.Time) []byte {
	var wireMessages []WireMessage

	for id, queue := range m.unreliableQueues {
		for _, entry := range queue {
			wireMessages = append(wireMessages, framesFor(id, entry.id, entry.fragments)...)
		}
		delete(m.unreliableQueues, id)
	}

	seq := m.localSeq
	m.localSeq++

	sentThisPacket := make(map[ID][]MessageID)
	for id, ch := range m.outbound {
		for mid, pm := range ch.pending {
			if !pm.lastSentAt.IsZero() && now.Sub(pm.lastSentAt) < m.retryInterval {
				continue
			}
			wireMessages = append(wireMessages, framesFor(id, mid, pm.fragments)...)
			pm.lastSeq = seq
			pm.lastSentAt = now
			sentThisPacket[id] = append(sentThisPacket[id], mid)
		}
	}
	if len(sentThisPacket) > 0 {
		m.sentPackets[seq] = sentThisPacket
		m.evictOldSentPackets()
	}

	header := Header{Seq: seq, Ack: m.ackValue(), AckBits: m.ackBits()}
	return EncodePacket(header, wireMessages)
}

func framesFor(id ID, mid MessageID, fragments [][]byte) []WireMessage {
	msgs := make([]WireMessage, 0, len(fragments))
	multi := len(fragments) > 1
	for i, frag := range fragments {
		fi := FragInfo{}
		if multi {
			fi = FragInfo{IsFragment: true, FragID: uint8(i), NumFrags: uint8(len(fragments))}
		}
		msgs = append(msgs, WireMessage{ChannelID: id, MessageID: mid, Fragment: fi, Payload: frag})
	}
	return msgs
}

func (m *Manager) evictOldSentPackets() {
	if len(m.sentPackets) <= 1024 {
		return
	}
	// Drop the farthest-behind packet relative to localSeq.
	var oldest uint16
	first := true
	for seq := range m.sentPackets {
		if first || uint16(m.localSeq-seq) > uint16(m.localSeq-oldest) {
			oldest = seq
			first = false
		}
	}
	delete(m.sentPackets, oldest)
}

func (m *Manager) ackValue() uint16 {
	if !m.haveRecvSeq {
		return 0
	}
	return m.lastRecvSeq
}

func (m *Manager) ackBits() uint32 {
	if !m.haveRecvSeq {
		return 0
	}
	var bits uint32
	for i := 0; i < ackWindow; i++ {
		seq := m.lastRecvSeq - uint16(i+1)
		if m.recvSeqSeen[seq] {
			bits |= 1 << uint(i)
		}
	}
	return bits
}

// OnPacketReceived decodes an incoming packet, records it for acking,
// applies the peer's ack/ack_bits to our own reliable backlog, reassembles
// fragments, and returns every message now ready for delivery in channel
// arrival order honoring each channel's Mode.
func (m *Manager) OnPacketReceived(data []byte) ([]Delivery, error) {
	header, wireMessages, err := DecodePacket(data)
	if err != nil {
		return nil, err
	}

	m.recordReceivedSeq(header.Seq)
	m.applyAck(header.Ack, header.AckBits)

	var deliveries []Delivery
	for _, wm := range wireMessages {
		complete, payload := m.reassemble(wm)
		if !complete {
			continue
		}
		deliveries = append(deliveries, m.admit(wm.ChannelID, wm.MessageID, payload)...)
	}
	return deliveries, nil
}

func (m *Manager) recordReceivedSeq(seq uint16) {
	m.recvSeqSeen[seq] = true
	if !m.haveRecvSeq || int16(seq-m.lastRecvSeq) > 0 {
		m.lastRecvSeq = seq
		m.haveRecvSeq = true
	}
	// Bound recvSeqSeen to the ack window plus slack.
	if len(m.recvSeqSeen) > ackWindow*4 {
		for s := range m.recvSeqSeen {
			if int16(m.lastRecvSeq-s) > ackWindow*2 {
				delete(m.recvSeqSeen, s)
			}
		}
	}
}

func (m *Manager) applyAck(ack uint16, ackBits uint32) {
	m.ackOne(ack)
	for i := 0; i < ackWindow; i++ {
		if ackBits&(1<<uint(i)) != 0 {
			m.ackOne(ack - uint16(i+1))
		}
	}
}

func (m *Manager) ackOne(seq uint16) {
	sent, ok := m.sentPackets[seq]
	if !ok {
		return
	}
	for id, mids := range sent {
		ch, ok := m.outbound[id]
		if !ok {
			continue
		}
		for _, mid := range mids {
			delete(ch.pending, mid)
		}
	}
	delete(m.sentPackets, seq)
}

func (m *Manager) reassemble(wm WireMessage) (bool, []byte) {
	if !wm.Fragment.IsFragment {
		return true, wm.Payload
	}
	chMap := m.reassembly[wm.ChannelID]
	if chMap == nil {
		chMap = make(map[MessageID]*reassemblyState)
		m.reassembly[wm.ChannelID] = chMap
	}
	state, ok := chMap[wm.MessageID]
	if !ok {
		state = &reassemblyState{total: wm.Fragment.NumFrags, parts: make(map[uint8][]byte)}
		chMap[wm.MessageID] = state
	}
	state.parts[wm.Fragment.FragID] = wm.Payload
	if len(state.parts) < int(state.total) {
		return false, nil
	}
	full := make([]byte, 0)
	for i := uint8(0); i < state.total; i++ {
		full = append(full, state.parts[i]...)
	}
	delete(chMap, wm.MessageID)
	return true, full
}

// admit applies channel Mode semantics (ordering / drop-old / pass-through)
// to a reassembled message and returns zero or more Deliveries: ordered
// channels may release several buffered messages at once.
func (m *Manager) admit(id ID, mid MessageID, payload []byte) []Delivery {
	mode := m.modes[id]
	switch {
	case mode.ordered():
		ord := m.orderedInbound[id]
		if mid.Before(ord.nextExpected) {
			return nil // stale duplicate
		}
		ord.buffered[mid] = payload
		var out []Delivery
		for {
			p, ok := ord.buffered[ord.nextExpected]
			if !ok {
				break
			}
			delete(ord.buffered, ord.nextExpected)
			out = append(out, Delivery{ChannelID: id, Payload: p})
			ord.nextExpected = ord.nextExpected.Next()
		}
		return out
	case mode.sequenced():
		seqState := m.sequencedInbound[id]
		if seqState.hasLatest && !seqState.latest.Before(mid) {
			return nil // stale or duplicate relative to newest delivered
		}
		seqState.hasLatest = true
		seqState.latest = mid
		return []Delivery{{ChannelID: id, Payload: payload}}
	default:
		return []Delivery{{ChannelID: id, Payload: payload}}
	}
}

// PendingBacklog returns the number of unacked messages outstanding on a
// reliable channel, for diagnostics/metrics.
func (m *Manager) PendingBacklog(id ID) int {
	ch, ok := m.outbound[id]
	if !ok {
		return 0
	}
	return len(ch.pending)
}
