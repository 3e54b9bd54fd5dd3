package tp

import (
	"github.com/kschamplin/someip/pkg/someip"
)

// reallyNeedsTPThreshold is the payload size above which a
// single-segment message still gets the TP flag and a TP header,
// rather than being sent as a plain SOME/IP datagram. Below this
// threshold the small TP header overhead is not worth paying.
const reallyNeedsTPThreshold = alignment

// Segmenter splits Messages into Segments no larger than
// MaxSegmentSize. It owns a single monotonic counter whose value is
// stored in the SequenceNumber of every segment of one message; nothing
// in this package reads it back, and the wire format itself carries no
// sequence number.
type Segmenter struct {
	MaxSegmentSize uint32
	seq            uint8
}

// NewSegmenter returns a Segmenter with maxSegmentSize clamped to
// MaxSegmentPayload, rounded down to an alignment boundary.
func NewSegmenter(maxSegmentSize uint32) *Segmenter {
	if maxSegmentSize == 0 || maxSegmentSize > MaxSegmentPayload {
		maxSegmentSize = MaxSegmentPayload
	}
	maxSegmentSize -= maxSegmentSize % alignment
	if maxSegmentSize == 0 {
		maxSegmentSize = alignment
	}
	return &Segmenter{MaxSegmentSize: maxSegmentSize}
}

// NeedsSegmentation reports whether msg's payload must be split across
// more than one TP segment.
func (s *Segmenter) NeedsSegmentation(msg *someip.Message) bool {
	return uint32(len(msg.Payload)) > s.MaxSegmentSize
}

// Segment splits msg into one or more wire-ready Segments. A message
// that fits within a single segment is still returned as exactly one
// Segment; its Type only carries the TP flag if its payload exceeds
// reallyNeedsTPThreshold.
func (s *Segmenter) Segment(msg *someip.Message) ([]Segment, error) {
	if uint32(len(msg.Payload)) > maxMessagePayload(s.MaxSegmentSize) {
		return nil, ErrMessageTooLarge
	}

	seq := s.seq
	s.seq++

	base := Segment{
		ServiceID:        msg.ServiceID,
		MethodID:         msg.MethodID,
		ClientID:         msg.ClientID,
		SessionID:        msg.SessionID,
		SequenceNumber:   seq,
		ProtocolVersion:  msg.ProtocolVersion,
		InterfaceVersion: msg.InterfaceVersion,
		Type:             msg.Type,
		ReturnCode:       msg.ReturnCode,
	}

	if len(msg.Payload) == 0 {
		single := base
		single.Payload = nil
		single.MoreSegments = false
		return []Segment{single}, nil
	}

	if !s.NeedsSegmentation(msg) {
		single := base
		single.Payload = msg.Payload
		single.MoreSegments = false
		if uint32(len(msg.Payload)) > reallyNeedsTPThreshold {
			single.Type = single.Type.WithTP()
		}
		return []Segment{single}, nil
	}

	base.Type = base.Type.WithTP()

	var segments []Segment
	offset := uint32(0)
	remaining := msg.Payload
	for len(remaining) > 0 {
		chunkLen := s.MaxSegmentSize
		if uint32(len(remaining)) <= chunkLen {
			chunkLen = uint32(len(remaining))
		} else {
			// Non-final chunks must be alignment-sized.
			chunkLen -= chunkLen % alignment
		}

		seg := base
		seg.Offset = offset
		seg.Payload = remaining[:chunkLen]
		seg.MoreSegments = uint32(len(remaining)) > chunkLen

		segments = append(segments, seg)
		remaining = remaining[chunkLen:]
		offset += chunkLen
	}
	return segments, nil
}

// maxMessagePayload is the largest payload a Segmenter configured with
// maxSegmentSize will ever agree to split, independent of
// MaxSegmentPayload: the hard protocol ceiling applies per segment, not
// per message, so the only message-level ceiling is someip.MaxMessageSize
// minus the fixed header overhead.
func maxMessagePayload(maxSegmentSize uint32) uint32 {
	return someip.MaxMessageSize - someip.HeaderSize - HeaderSize
}
