// Package rtt implements the Ping/RTT Estimator of spec.md section 4.2: a
// periodic ping/pong exchange with an exponentially weighted mean RTT and
// jitter estimate.
package rtt

import (
	"fmt"
	"time"
)

// Ping is sent by the local side at a configurable cadence.
type Ping struct {
	ID       uint16
	SendTime time.Time
}

// Pong is the peer's reply to a Ping.
type Pong struct {
	PingID        uint16
	PingRecvTime  time.Time
	PongSendTime  time.Time
}

const smoothing = 0.1 // EWMA weight given to each new sample, as in spec.md's "smoothed RTT".

// Estimator tracks outstanding pings and maintains smoothed RTT/jitter.
type Estimator struct {
	interval time.Duration
	timeout  time.Duration

	nextID       uint16
	lastSendTime time.Time
	pending      map[uint16]time.Time

	rtt           time.Duration
	jitter        time.Duration
	haveEstimate  bool
	lastPongTime  time.Time
}

// NewEstimator creates an Estimator that pings every interval and considers
// the peer unreachable after timeout with no pong.
func NewEstimator(interval, timeout time.Duration) *Estimator {
	return &Estimator{
		interval: interval,
		timeout:  timeout,
		pending:  make(map[uint16]time.Time),
	}
}

// ShouldPing reports whether interval has elapsed since the last ping was
// issued, given the current time.
func (e *Estimator) ShouldPing(now time.Time) bool {
	return now.Sub(e.lastSendTime) >= e.interval
}

// IssuePing allocates a new Ping and records it as outstanding.
func (e *Estimator) IssuePing(now time.Time) Ping {
	id := e.nextID
	e.nextID++
	e.lastSendTime = now
	e.pending[id] = now
	return Ping{ID: id, SendTime: now}
}

// OnPong processes a received Pong, updating the RTT/jitter estimate.
// rtt = (now - send_time) - (pong_send_time - ping_recv_time), matching
// spec.md section 4.2 exactly: the peer's own processing delay is
// subtracted out of the round trip.
func (e *Estimator) OnPong(pong Pong, now time.Time) (time.Duration, error) {
	sendTime, ok := e.pending[pong.PingID]
	if !ok {
		return 0, fmt.Errorf("rtt: pong for unknown ping id %d", pong.PingID)
	}
	delete(e.pending, pong.PingID)

	roundTrip := now.Sub(sendTime)
	processing := pong.PongSendTime.Sub(pong.PingRecvTime)
	sample := roundTrip - processing
	if sample < 0 {
		sample = 0
	}

	if !e.haveEstimate {
		e.rtt = sample
		e.jitter = 0
		e.haveEstimate = true
	} else {
		delta := sample - e.rtt
		if delta < 0 {
			delta = -delta
		}
		e.jitter = time.Duration((1-smoothing)*float64(e.jitter) + smoothing*float64(delta))
		e.rtt = time.Duration((1-smoothing)*float64(e.rtt) + smoothing*float64(sample))
	}
	e.lastPongTime = now
	return sample, nil
}

// RTT returns the current smoothed round-trip-time estimate.
func (e *Estimator) RTT() time.Duration { return e.rtt }

// Jitter returns the current smoothed jitter estimate.
func (e *Estimator) Jitter() time.Duration { return e.jitter }

// HasEstimate reports whether at least one pong has been processed.
func (e *Estimator) HasEstimate() bool { return e.haveEstimate }

// TimedOut reports whether timeout has elapsed since the last accepted pong
// (or, if none has ever arrived, since the most recent ping was issued;
// never, if no ping has been issued) — spec.md section 4.3's
// sync_timeout / section 7's SyncLost trigger.
func (e *Estimator) TimedOut(now time.Time) bool {
	if !e.haveEstimate {
		return now.Sub(e.lastSendTime) >= e.timeout && e.nextID > 0
	}
	return now.Sub(e.lastPongTime) >= e.timeout
}

// PruneStalePings drops outstanding pings older than timeout, so a lost
// ping doesn't keep its id "pending" forever.
func (e *Estimator) PruneStalePings(now time.Time) {
	for id, sent := range e.pending {
		if now.Sub(sent) >= e.timeout {
			delete(e.pending, id)
		}
	}
}
