// Package transport implements the non-blocking datagram abstraction the
// core drives each frame (spec.md section 5: "the core itself does not
// block; I/O blocking is confined to transport adapters, which expose
// non-blocking try_recv/send").
package transport

import "errors"

// ErrClosed is returned by Send once Close has been called.
var ErrClosed = errors.New("transport: closed")

// Transport is one peer connection's duplex, non-blocking byte-packet
// channel. Implementations never block the caller: Send enqueues for a
// background writer, TryRecv drains whatever has already arrived.
type Transport interface {
	// Send enqueues data for delivery. It does not block on the network.
	Send(data []byte) error
	// TryRecv returns the next received packet, if any, without blocking.
	TryRecv() ([]byte, bool)
	// Close tears down the transport and cancels outstanding work.
	Close() error
}
