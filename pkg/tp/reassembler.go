package tp

import (
	"sync"

	"github.com/kschamplin/someip/pkg/someip"
	"github.com/kschamplin/someip/pkg/transport"
)

// DefaultReassemblyTimeoutMs is the buffer staleness window applied
// when a Reassembler is constructed with a zero timeout.
const DefaultReassemblyTimeoutMs = 5000

// DefaultMaxBuffers bounds the number of concurrent in-flight
// reassemblies before ResourceExhausted (or eviction, if configured)
// kicks in.
const DefaultMaxBuffers = 256

// key identifies one reassembly in flight.
type key struct {
	source    string
	serviceID uint16
	methodID  uint16
	sessionID uint16
}

// buffer is the gap-tracked reassembly state for one key. received[i]
// is true once byte i has been written. totalLength is unknown (0,
// known=false) until the final segment is seen.
type buffer struct {
	data         []byte
	received     []bool
	totalLength  uint32
	known        bool
	firstSeenMs  uint64
	firstSegment Segment
}

func newBuffer(seg Segment, nowMs uint64) *buffer {
	size := seg.Offset + uint32(len(seg.Payload))
	if size < alignment {
		size = alignment
	}
	return &buffer{
		data:         make([]byte, size),
		received:     make([]bool, size),
		firstSeenMs:  nowMs,
		firstSegment: seg,
	}
}

func (b *buffer) grow(size uint32) {
	if uint32(len(b.data)) >= size {
		return
	}
	nd := make([]byte, size)
	copy(nd, b.data)
	nr := make([]bool, size)
	copy(nr, b.received)
	b.data = nd
	b.received = nr
}

// rangeStatus reports whether [off, off+n) is entirely unreceived,
// entirely already received (duplicate), or partially received
// (overlap violation).
func (b *buffer) rangeStatus(off, n uint32) (allNew, allOld bool) {
	allNew, allOld = true, true
	for i := off; i < off+n; i++ {
		if b.received[i] {
			allNew = false
		} else {
			allOld = false
		}
	}
	return
}

func (b *buffer) write(seg Segment) {
	end := seg.Offset + uint32(len(seg.Payload))
	b.grow(end)
	copy(b.data[seg.Offset:end], seg.Payload)
	for i := seg.Offset; i < end; i++ {
		b.received[i] = true
	}
}

func (b *buffer) complete() bool {
	if !b.known {
		return false
	}
	if uint32(len(b.received)) < b.totalLength {
		return false
	}
	for i := uint32(0); i < b.totalLength; i++ {
		if !b.received[i] {
			return false
		}
	}
	return true
}

// EvictionPolicy controls what happens when a Reassembler is asked to
// start a new buffer while already at its configured capacity.
type EvictionPolicy int

const (
	// RejectNew returns ResourceExhausted for the new segment, leaving
	// existing buffers untouched.
	RejectNew EvictionPolicy = iota
	// EvictOldest destroys the oldest (by first-segment timestamp)
	// buffer to make room for the new one.
	EvictOldest
)

// Reassembler reconstructs Messages from Segments delivered in
// arbitrary order. Shaped like a block-transfer receive path,
// generalized from a single in-flight transfer with a fixed sequence
// window to many concurrent byte-range-tracked buffers keyed by source
// and message identity.
type Reassembler struct {
	mu                  sync.Mutex
	buffers             map[key]*buffer
	ReassemblyTimeoutMs uint64
	MaxBuffers          int
	Eviction            EvictionPolicy
}

// NewReassembler constructs a Reassembler with the given timeout (0
// selects DefaultReassemblyTimeoutMs) and buffer cap (0 selects
// DefaultMaxBuffers).
func NewReassembler(reassemblyTimeoutMs uint64, maxBuffers int) *Reassembler {
	if reassemblyTimeoutMs == 0 {
		reassemblyTimeoutMs = DefaultReassemblyTimeoutMs
	}
	if maxBuffers == 0 {
		maxBuffers = DefaultMaxBuffers
	}
	return &Reassembler{
		buffers:             make(map[key]*buffer),
		ReassemblyTimeoutMs: reassemblyTimeoutMs,
		MaxBuffers:          maxBuffers,
	}
}

func keyFor(source transport.Endpoint, seg Segment) key {
	return key{
		source:    source.String(),
		serviceID: seg.ServiceID,
		methodID:  seg.MethodID,
		sessionID: seg.SessionID,
	}
}

// Process applies one received segment, returning a fully reassembled
// Message when it completes the transfer. A nil Message with a nil
// error means the segment was accepted but the transfer is still in
// progress (or the segment was a harmless duplicate).
func (r *Reassembler) Process(source transport.Endpoint, seg Segment, nowMs uint64) (*someip.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyFor(source, seg)
	b, ok := r.buffers[k]
	if !ok {
		if len(r.buffers) >= r.MaxBuffers {
			if r.Eviction == EvictOldest {
				r.evictOldestLocked()
			} else {
				return nil, ErrResourceExhausted
			}
		}
		b = newBuffer(seg, nowMs)
		r.buffers[k] = b
	}

	end := seg.Offset + uint32(len(seg.Payload))
	if end > uint32(len(b.data)) {
		b.grow(end)
	}

	if !seg.MoreSegments {
		if b.known && b.totalLength != end {
			delete(r.buffers, k)
			return nil, ErrMalformedMessage
		}
		b.totalLength = end
		b.known = true
	} else if b.known && end > b.totalLength {
		delete(r.buffers, k)
		return nil, ErrMalformedMessage
	}

	if len(seg.Payload) > 0 {
		allNew, allOld := b.rangeStatus(seg.Offset, uint32(len(seg.Payload)))
		switch {
		case allOld:
			// Duplicate: ignore, keep buffer as-is.
			return nil, nil
		case !allNew && !allOld:
			// Partial overlap: protocol violation, discard the segment
			// but keep the buffer intact for the remaining gaps.
			return nil, ErrMalformedMessage
		}
		b.write(seg)
	}

	if !b.complete() {
		return nil, nil
	}

	delete(r.buffers, k)
	first := b.firstSegment
	msg := &someip.Message{
		ServiceID:        first.ServiceID,
		MethodID:         first.MethodID,
		ClientID:         first.ClientID,
		SessionID:        first.SessionID,
		ProtocolVersion:  first.ProtocolVersion,
		InterfaceVersion: first.InterfaceVersion,
		Type:             seg.Type.WithoutTP(),
		ReturnCode:       first.ReturnCode,
	}
	msg.SetPayload(b.data[:b.totalLength])
	return msg, nil
}

// evictOldestLocked removes the buffer with the oldest first-segment
// timestamp. Caller must hold r.mu.
func (r *Reassembler) evictOldestLocked() {
	var oldestKey key
	var oldestMs uint64
	first := true
	for k, b := range r.buffers {
		if first || b.firstSeenMs < oldestMs {
			oldestKey, oldestMs, first = k, b.firstSeenMs, false
		}
	}
	if !first {
		delete(r.buffers, oldestKey)
	}
}

// ProcessTimeouts destroys every buffer whose first-segment timestamp
// is older than ReassemblyTimeoutMs relative to nowMs, invoking onTimeout
// once per destroyed buffer with ErrReassemblyTimeout.
func (r *Reassembler) ProcessTimeouts(nowMs uint64, onTimeout func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, b := range r.buffers {
		if nowMs-b.firstSeenMs >= r.ReassemblyTimeoutMs {
			delete(r.buffers, k)
			if onTimeout != nil {
				onTimeout(ErrReassemblyTimeout)
			}
		}
	}
}

// IsReassembling reports whether a buffer is currently in flight for
// the given source/service/method/session tuple.
func (r *Reassembler) IsReassembling(source transport.Endpoint, serviceID, methodID, sessionID uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buffers[key{source: source.String(), serviceID: serviceID, methodID: methodID, sessionID: sessionID}]
	return ok
}
