// Package transport defines the minimal boundary the core consumes
// from its host: a byte-oriented send/receive pair and a monotonic
// clock. It deliberately says nothing about sockets, multicast group
// membership or framing — those are external collaborators. The shape
// mirrors a minimal bus/frame-listener pair, generalized from a short
// fixed-size frame sent to a numeric arbitration id to an
// arbitrary-length datagram sent to an Endpoint.
package transport

import "time"

// Endpoint identifies a transport-level peer (e.g. an IP:port pair).
// The core treats it as opaque and keys SD and TP reassembly state by
// its String() form, without depending on any concrete transport
// implementation.
type Endpoint interface {
	String() string
	// Equal reports whether other refers to the same peer.
	Equal(other Endpoint) bool
}

// Listener receives inbound datagrams or framed records handed up by a
// Transport, paired with the sender's Endpoint.
type Listener interface {
	HandleDatagram(b []byte, sender Endpoint)
}

// Transport is the boundary the core requires from its host: a
// best-effort send and a subscription point for inbound data. The core
// never blocks on I/O; Send is expected to return promptly with a
// success/failure indication, and HandleDatagram is invoked by the
// transport's own receive loop, not by the core.
type Transport interface {
	Send(b []byte, ep Endpoint) error
	Subscribe(listener Listener) (cancel func(), err error)
}

// Clock supplies the monotonic millisecond time used by E2E freshness
// and SD/TP timers.
type Clock interface {
	NowMs() uint64
}

// StringEndpoint is a minimal Endpoint backed by an opaque string,
// suitable for tests and for hosts that already have a stable textual
// peer identity (e.g. "ip:port").
type StringEndpoint string

func (e StringEndpoint) String() string { return string(e) }

func (e StringEndpoint) Equal(other Endpoint) bool {
	o, ok := other.(StringEndpoint)
	return ok && o == e
}

// SystemClock is a Clock backed by the Go runtime's monotonic clock
// reading, suitable whenever the host process's own wall/monotonic
// time is an acceptable freshness source.
type SystemClock struct{ epoch time.Time }

func NewSystemClock() SystemClock {
	return SystemClock{epoch: time.Now()}
}

func (c SystemClock) NowMs() uint64 {
	return uint64(time.Since(c.epoch).Milliseconds())
}
