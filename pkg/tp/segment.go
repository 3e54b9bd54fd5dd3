// Package tp implements the SOME/IP-TP segmentation and reassembly
// sub-layer: splitting an oversized Message into offset-aligned
// segments for transmission, and reassembling segments received out of
// order back into a Message. Solves the same structural problem a
// block-transfer protocol solves for a small fixed-size frame payload:
// a monotonic sequence number, a last-segment flag, and a
// byte-count-driven completion check.
package tp

import (
	"errors"

	"github.com/kschamplin/someip/internal/wire"
	"github.com/kschamplin/someip/pkg/someip"
)

var (
	ErrMessageTooLarge   = errors.New("tp: message exceeds maximum size")
	ErrResourceExhausted = errors.New("tp: resource exhausted")
	ErrMalformedMessage  = errors.New("tp: malformed message")
	ErrReassemblyTimeout = errors.New("tp: reassembly timeout")
	ErrSequenceError     = errors.New("tp: sequence error")
)

// HeaderSize is the 4-byte TP header that follows the 16-byte SOME/IP
// header in every TP segment.
const HeaderSize = 4

// alignment is the byte alignment required of every non-final segment's
// offset and payload length.
const alignment = 16

// MaxSegmentPayload is the hard ceiling on a single segment's payload,
// chosen so a full UDP datagram (16-byte header + 4-byte TP header +
// payload) stays at or under 1400 bytes.
const MaxSegmentPayload = 87 * alignment // 1392

// Segment is one piece of a segmented Message.
type Segment struct {
	ServiceID      uint16
	MethodID       uint16
	ClientID       uint16
	SessionID      uint16
	SequenceNumber uint8
	Offset         uint32
	MoreSegments   bool
	Payload        []byte

	// Header fields copied from the original message onto every
	// segment; the reassembler rebuilds the Message header from the
	// first segment it receives for a key.
	ProtocolVersion  uint8
	InterfaceVersion uint8
	Type             someip.MessageType
	ReturnCode       someip.ReturnCode
}

// encodeTPHeader renders the 4-byte offset/more-segments word.
func encodeTPHeader(offset uint32, more bool) uint32 {
	word := (offset / alignment) << 4
	if more {
		word |= 1
	}
	return word
}

// decodeTPHeader parses the 4-byte offset/more-segments word.
func decodeTPHeader(word uint32) (offset uint32, more bool) {
	offset = (word >> 4) * alignment
	more = word&1 != 0
	return offset, more
}

// serialize renders s as a full on-wire SOME/IP datagram: 16-byte
// header (TP flag set, Length = 8 + 4 + payload) + 4-byte TP header +
// payload.
func (s Segment) serialize() ([]byte, error) {
	msg := &someip.Message{
		ServiceID:        s.ServiceID,
		MethodID:         s.MethodID,
		ClientID:         s.ClientID,
		SessionID:        s.SessionID,
		ProtocolVersion:  s.ProtocolVersion,
		InterfaceVersion: s.InterfaceVersion,
		Type:             s.Type,
		ReturnCode:       s.ReturnCode,
	}
	header, err := msg.HeaderBytesForLength(uint32(8 + HeaderSize + len(s.Payload)))
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(header)+HeaderSize+len(s.Payload))
	copy(buf, header)
	w := wire.NewWriter(buf[len(header):])
	if err := w.WriteUint32(encodeTPHeader(s.Offset, s.MoreSegments)); err != nil {
		return nil, err
	}
	copy(buf[len(header)+HeaderSize:], s.Payload)
	return buf, nil
}

// DeserializeSegment parses a full on-wire TP segment: the 16-byte
// SOME/IP header followed immediately by the 4-byte TP header and
// payload. It reads the SOME/IP header fields directly rather than
// calling someip.Deserialize, because that function's job is telling
// a bare payload apart from an E2E-header-plus-payload tail — a
// distinction that never applies here, since the TP header always
// follows the SOME/IP header at a fixed offset. Running the E2E
// heuristic against the TP header's 4 bytes plus the first 8 payload
// bytes would misdetect an E2E header often enough to corrupt the
// Offset/MoreSegments decode.
func DeserializeSegment(buf []byte) (Segment, error) {
	if len(buf) < someip.HeaderSize+HeaderSize {
		return Segment{}, ErrMalformedMessage
	}

	r := wire.NewReader(buf[:someip.HeaderSize])
	serviceID, err := r.ReadUint16()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	methodID, err := r.ReadUint16()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	length, err := r.ReadUint32()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	clientID, err := r.ReadUint16()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	sessionID, err := r.ReadUint16()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	protocolVersion, err := r.ReadUint8()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	interfaceVersion, err := r.ReadUint8()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	mt, err := r.ReadUint8()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	msgType := someip.MessageType(mt)
	rc, err := r.ReadUint8()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}

	if !msgType.HasTP() {
		return Segment{}, ErrMalformedMessage
	}
	if uint32(len(buf)-8) != length {
		return Segment{}, ErrMalformedMessage
	}

	payload := buf[someip.HeaderSize:]

	tpR := wire.NewReader(payload[:HeaderSize])
	word, err := tpR.ReadUint32()
	if err != nil {
		return Segment{}, ErrMalformedMessage
	}
	offset, more := decodeTPHeader(word)

	return Segment{
		ServiceID:        serviceID,
		MethodID:         methodID,
		ClientID:         clientID,
		SessionID:        sessionID,
		Offset:           offset,
		MoreSegments:     more,
		Payload:          payload[HeaderSize:],
		ProtocolVersion:  protocolVersion,
		InterfaceVersion: interfaceVersion,
		Type:             msgType,
		ReturnCode:       someip.ReturnCode(rc),
	}, nil
}
