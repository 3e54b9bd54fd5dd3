// Package someip implements the SOME/IP message codec: the fixed
// 16-byte header, the optional 12-byte E2E header, and the
// header-validation state machine. Shaped like a fixed-size raw buffer
// with command-byte accessor methods and a per-state validity check,
// generalized from a short fixed-size frame to an arbitrarily long
// SOME/IP datagram.
package someip

import (
	"github.com/kschamplin/someip/internal/wire"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "someip")

// HeaderSize is the fixed SOME/IP header length in bytes.
const HeaderSize = 16

// E2EHeaderSize is the fixed size of the reference-profile E2E header
// when present.
const E2EHeaderSize = 12

// MaxMessageSize bounds total on-wire size.
const MaxMessageSize = 65535

const (
	ServiceIdSD uint16 = 0xFFFF
	MethodIdSD  uint16 = 0x8100
)

// MessageType is the message-type byte; bit 5 (0x20) is the TP flag.
type MessageType uint8

const (
	MessageTypeRequest           MessageType = 0x00
	MessageTypeRequestNoReturn   MessageType = 0x01
	MessageTypeNotification      MessageType = 0x02
	MessageTypeRequestAck        MessageType = 0x40
	MessageTypeResponse          MessageType = 0x80
	MessageTypeError             MessageType = 0x81
	MessageTypeResponseAck       MessageType = 0xC0
	MessageTypeErrorAck          MessageType = 0xC1
	MessageTypeRequestTP         MessageType = 0x20
	MessageTypeRequestNoReturnTP MessageType = 0x21
	MessageTypeNotificationTP    MessageType = 0x22

	tpFlag MessageType = 0x20
)

var messageTypeAccepted = map[MessageType]bool{
	MessageTypeRequest:           true,
	MessageTypeRequestNoReturn:   true,
	MessageTypeNotification:      true,
	MessageTypeRequestAck:        true,
	MessageTypeResponse:          true,
	MessageTypeError:             true,
	MessageTypeResponseAck:       true,
	MessageTypeErrorAck:          true,
	MessageTypeRequestTP:         true,
	MessageTypeRequestNoReturnTP: true,
	MessageTypeNotificationTP:    true,
}

func (mt MessageType) Valid() bool { return messageTypeAccepted[mt] }

// HasTP reports whether the TP flag (bit 5) is set.
func (mt MessageType) HasTP() bool { return mt&tpFlag != 0 }

// WithTP returns mt with the TP flag set.
func (mt MessageType) WithTP() MessageType { return mt | tpFlag }

// WithoutTP returns mt with the TP flag cleared, the shape a reassembled
// message is delivered in once its segments are no longer relevant.
func (mt MessageType) WithoutTP() MessageType { return mt &^ tpFlag }

// movedFromInterfaceVersion is the reserved Interface Version sentinel
// for a moved-from message.
const movedFromInterfaceVersion uint8 = 0xFF

const protocolVersion uint8 = 0x01

// E2EHeader is the reference-profile end-to-end protection header:
// CRC32 | Counter | DataID | Freshness, inserted immediately after the
// Return Code byte.
type E2EHeader struct {
	CRC       uint32
	Counter   uint32
	DataID    uint16
	Freshness uint16
}

// Message is a SOME/IP message: fixed header, optional E2E header, and
// payload. It is a value object; callers serialize/deserialize it
// explicitly, there is no hidden wire-format state.
type Message struct {
	ServiceID        uint16
	MethodID         uint16
	ClientID         uint16
	SessionID        uint16
	ProtocolVersion  uint8
	InterfaceVersion uint8
	Type             MessageType
	ReturnCode       ReturnCode

	E2E     *E2EHeader
	Payload []byte
}

// NewMessage constructs a minimal request/notification-shaped message
// with protocol version and return code already set to their required
// values.
func NewMessage(serviceID, methodID, clientID, sessionID uint16, msgType MessageType) *Message {
	return &Message{
		ServiceID:        serviceID,
		MethodID:         methodID,
		ClientID:         clientID,
		SessionID:        sessionID,
		ProtocolVersion:  protocolVersion,
		InterfaceVersion: 0x01,
		Type:             msgType,
		ReturnCode:       ReturnCodeOk,
	}
}

// SetPayload replaces the payload.
func (m *Message) SetPayload(payload []byte) { m.Payload = payload }

// SetE2EHeader attaches an E2E header; Length is recomputed on
// Serialize.
func (m *Message) SetE2EHeader(h E2EHeader) { m.E2E = &h }

// ClearE2EHeader removes any attached E2E header.
func (m *Message) ClearE2EHeader() { m.E2E = nil }

// e2eSize returns 12 when an E2E header is present, else 0.
func (m *Message) e2eSize() uint32 {
	if m.E2E != nil {
		return E2EHeaderSize
	}
	return 0
}

// Length is the header's Length field: bytes from offset 8 to end.
func (m *Message) Length() uint32 {
	return 8 + m.e2eSize() + uint32(len(m.Payload))
}

// TotalSize is the full on-wire size, header included.
func (m *Message) TotalSize() uint32 {
	return HeaderSize - 8 + m.Length()
}

// IsSD reports whether this message targets the Service Discovery
// pseudo-service.
func (m *Message) IsSD() bool {
	return m.ServiceID == ServiceIdSD && m.MethodID == MethodIdSD
}

// HasValidHeader checks the header-level invariants, independent of
// any application-level interface-version policy.
func (m *Message) HasValidHeader() bool {
	if m.ProtocolVersion != protocolVersion {
		return false
	}
	if m.InterfaceVersion == movedFromInterfaceVersion {
		return false
	}
	if !m.Type.Valid() {
		return false
	}
	if !m.ReturnCode.Valid() {
		return false
	}
	if m.Length() != 8+m.e2eSize()+uint32(len(m.Payload)) {
		return false
	}
	if m.TotalSize() > MaxMessageSize {
		return false
	}
	switch m.Type {
	case MessageTypeRequest, MessageTypeRequestNoReturn, MessageTypeNotification,
		MessageTypeRequestTP, MessageTypeRequestNoReturnTP, MessageTypeNotificationTP:
		if m.ReturnCode != ReturnCodeOk {
			return false
		}
	}
	return true
}

// IsValid is an alias kept for parity with the public contract; header
// validity is the entire validity surface for a Message value object
// (payload content is application-defined).
func (m *Message) IsValid() bool { return m.HasValidHeader() }

// HeaderBytesForLength renders the 16-byte SOME/IP header using the
// given Length value instead of m.Length(). The E2E engine uses this
// to build the "for-CRC" image: a header whose Length already reflects
// the E2E header about to be attached, without requiring the E2E
// header to exist yet.
func (m *Message) HeaderBytesForLength(length uint32) ([]byte, error) {
	buf := make([]byte, HeaderSize)
	w := wire.NewWriter(buf)
	for _, err := range []error{
		w.WriteUint16(m.ServiceID),
		w.WriteUint16(m.MethodID),
		w.WriteUint32(length),
		w.WriteUint16(m.ClientID),
		w.WriteUint16(m.SessionID),
		w.WriteUint8(m.ProtocolVersion),
		w.WriteUint8(m.InterfaceVersion),
		w.WriteUint8(uint8(m.Type)),
		w.WriteUint8(uint8(m.ReturnCode)),
	} {
		if err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// Serialize writes the 16-byte header (Length already reflecting E2E
// size + payload size), the E2E header if present, then the payload.
func (m *Message) Serialize() ([]byte, error) {
	total := int(HeaderSize) + int(m.e2eSize()) + len(m.Payload)
	if total > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, total)
	w := wire.NewWriter(buf)

	if err := w.WriteUint16(m.ServiceID); err != nil {
		return nil, err
	}
	if err := w.WriteUint16(m.MethodID); err != nil {
		return nil, err
	}
	if err := w.WriteUint32(m.Length()); err != nil {
		return nil, err
	}
	if err := w.WriteUint16(m.ClientID); err != nil {
		return nil, err
	}
	if err := w.WriteUint16(m.SessionID); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(m.ProtocolVersion); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(m.InterfaceVersion); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(uint8(m.Type)); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(uint8(m.ReturnCode)); err != nil {
		return nil, err
	}

	if m.E2E != nil {
		if err := w.WriteUint32(m.E2E.CRC); err != nil {
			return nil, err
		}
		if err := w.WriteUint32(m.E2E.Counter); err != nil {
			return nil, err
		}
		if err := w.WriteUint16(m.E2E.DataID); err != nil {
			return nil, err
		}
		if err := w.WriteUint16(m.E2E.Freshness); err != nil {
			return nil, err
		}
	}

	if err := w.WriteBytes(m.Payload); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Deserialize reads a Message from buf, applying the E2E-presence
// heuristic when the remaining bytes are ambiguous between "payload
// only" and "E2E header + payload".
func Deserialize(buf []byte) (*Message, error) {
	r := wire.NewReader(buf)

	m := &Message{}
	var err error
	if m.ServiceID, err = r.ReadUint16(); err != nil {
		return nil, ErrMalformedMessage
	}
	if m.MethodID, err = r.ReadUint16(); err != nil {
		return nil, ErrMalformedMessage
	}
	length, err := r.ReadUint32()
	if err != nil {
		return nil, ErrMalformedMessage
	}
	if m.ClientID, err = r.ReadUint16(); err != nil {
		return nil, ErrMalformedMessage
	}
	if m.SessionID, err = r.ReadUint16(); err != nil {
		return nil, ErrMalformedMessage
	}
	if m.ProtocolVersion, err = r.ReadUint8(); err != nil {
		return nil, ErrMalformedMessage
	}
	if m.InterfaceVersion, err = r.ReadUint8(); err != nil {
		return nil, ErrMalformedMessage
	}
	mt, err := r.ReadUint8()
	if err != nil {
		return nil, ErrMalformedMessage
	}
	m.Type = MessageType(mt)
	rc, err := r.ReadUint8()
	if err != nil {
		return nil, ErrMalformedMessage
	}
	m.ReturnCode = ReturnCode(rc)

	if length < 8 {
		return nil, ErrMalformedMessage
	}
	remaining := r.Remaining()
	if uint32(remaining) != length-8 {
		return nil, ErrMalformedMessage
	}

	rest, err := r.ReadBytes(remaining)
	if err != nil {
		return nil, ErrMalformedMessage
	}

	if looksLikeE2E(length, rest) {
		e2eR := wire.NewReader(rest[:E2EHeaderSize])
		hdr := E2EHeader{}
		hdr.CRC, _ = e2eR.ReadUint32()
		hdr.Counter, _ = e2eR.ReadUint32()
		hdr.DataID, _ = e2eR.ReadUint16()
		hdr.Freshness, _ = e2eR.ReadUint16()
		m.E2E = &hdr
		m.Payload = rest[E2EHeaderSize:]
	} else {
		m.Payload = rest
	}

	if m.Length() != length {
		// Defensive: should be unreachable given the remaining-byte
		// check above, but guards against a future field addition.
		logger.Warnf("length mismatch after E2E heuristic: header=%d computed=%d", length, m.Length())
		return nil, ErrMalformedMessage
	}
	return m, nil
}

// looksLikeE2E implements a lossy detection heuristic, retained only
// because the wire format does not self-describe E2E presence.
// Deserialize applies it to every message; it does not consult the
// per-(ServiceID, MethodID) E2E bindings that pkg/config loads.
func looksLikeE2E(length uint32, rest []byte) bool {
	if length < 8+E2EHeaderSize {
		return false
	}
	if len(rest) < E2EHeaderSize {
		return false
	}
	candidate := rest[:E2EHeaderSize]
	r := wire.NewReader(candidate)
	crcVal, _ := r.ReadUint32()
	counter, _ := r.ReadUint32()
	dataID, _ := r.ReadUint16()
	freshness, _ := r.ReadUint16()

	if dataID == 0 {
		return false
	}
	if crcVal == 0 && counter == 0 && freshness == 0 {
		return false
	}
	if allSameByte(candidate[0:4]) || allSameByte(candidate[4:8]) || allSameByte(candidate[10:12]) {
		return false
	}
	return true
}

func allSameByte(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	first := b[0]
	for _, v := range b[1:] {
		if v != first {
			return false
		}
	}
	return true
}
