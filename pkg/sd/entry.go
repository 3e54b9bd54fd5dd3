package sd

import (
	"github.com/kschamplin/someip/internal/wire"
)

// EntryType is the SD entry type byte.
type EntryType uint8

const (
	EntryTypeFind                   EntryType = 0x00
	EntryTypeOffer                  EntryType = 0x01
	EntryTypeSubscribeEventgroup    EntryType = 0x06
	EntryTypeSubscribeEventgroupAck EntryType = 0x07
)

// EntrySize is the fixed wire size of one SD entry.
const EntrySize = 16

// InfiniteTTL is the TTL value meaning "never expires"; it suppresses
// the 1-second countdown decrement.
const InfiniteTTL uint32 = 0xFFFFFF

// Entry is one SD entry: a tagged union over Find/Offer/Subscribe/Ack,
// disambiguated by Type. Option-run indices (Index1/Index2/N1/N2) refer
// into the Options array carried by the enclosing Message.
type Entry struct {
	Type         EntryType
	Index1       uint8
	Index2       uint8
	N1           uint8
	N2           uint8
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	TTL          uint32 // 24-bit on the wire

	// Find/Offer.
	MinorVersion uint32

	// Subscribe-Eventgroup / Ack.
	EventgroupID uint16
}

// IsStopOffer reports whether this Offer entry is a withdrawal (TTL=0).
func (e Entry) IsStopOffer() bool { return e.Type == EntryTypeOffer && e.TTL == 0 }

// IsNack reports whether this Ack entry denies a subscription (TTL=0).
func (e Entry) IsNack() bool {
	return e.Type == EntryTypeSubscribeEventgroupAck && e.TTL == 0
}

func (e Entry) encode(w *wire.Writer) error {
	if err := w.WriteUint8(uint8(e.Type)); err != nil {
		return err
	}
	if err := w.WriteUint8(e.Index1); err != nil {
		return err
	}
	if err := w.WriteUint8(e.Index2); err != nil {
		return err
	}
	if err := w.WriteUint8((e.N1 << 4) | (e.N2 & 0x0F)); err != nil {
		return err
	}
	if err := w.WriteUint16(e.ServiceID); err != nil {
		return err
	}
	if err := w.WriteUint16(e.InstanceID); err != nil {
		return err
	}
	if err := w.WriteUint8(e.MajorVersion); err != nil {
		return err
	}
	ttl := e.TTL & 0x00FFFFFF
	if err := w.WriteUint8(uint8(ttl >> 16)); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(ttl >> 8)); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(ttl)); err != nil {
		return err
	}

	switch e.Type {
	case EntryTypeFind, EntryTypeOffer:
		return w.WriteUint32(e.MinorVersion)
	case EntryTypeSubscribeEventgroup, EntryTypeSubscribeEventgroupAck:
		if err := w.WriteUint16(0); err != nil { // reserved
			return err
		}
		return w.WriteUint16(e.EventgroupID)
	default:
		return w.WriteUint32(0)
	}
}

// decodeEntry reads one 16-byte entry. ok is false (with a nil error)
// when the entry's type byte is unrecognized, per spec: unknown entry
// types are skipped with a warning rather than treated as a parse
// error.
func decodeEntry(buf []byte) (entry Entry, ok bool, err error) {
	if len(buf) != EntrySize {
		return Entry{}, false, ErrMalformedMessage
	}
	r := wire.NewReader(buf)

	typByte, _ := r.ReadUint8()
	index1, _ := r.ReadUint8()
	index2, _ := r.ReadUint8()
	nByte, _ := r.ReadUint8()
	serviceID, _ := r.ReadUint16()
	instanceID, _ := r.ReadUint16()
	major, _ := r.ReadUint8()
	ttlHi, _ := r.ReadUint8()
	ttlMid, _ := r.ReadUint8()
	ttlLo, _ := r.ReadUint8()
	ttl := uint32(ttlHi)<<16 | uint32(ttlMid)<<8 | uint32(ttlLo)

	typ := EntryType(typByte)
	e := Entry{
		Type:         typ,
		Index1:       index1,
		Index2:       index2,
		N1:           nByte >> 4,
		N2:           nByte & 0x0F,
		ServiceID:    serviceID,
		InstanceID:   instanceID,
		MajorVersion: major,
		TTL:          ttl,
	}

	switch typ {
	case EntryTypeFind, EntryTypeOffer:
		minor, _ := r.ReadUint32()
		e.MinorVersion = minor
	case EntryTypeSubscribeEventgroup, EntryTypeSubscribeEventgroupAck:
		if _, err := r.ReadUint16(); err != nil { // reserved
			return Entry{}, false, ErrMalformedMessage
		}
		eg, _ := r.ReadUint16()
		e.EventgroupID = eg
	default:
		logger.Warnf("sd: unknown entry type %#x, skipping", typByte)
		return Entry{}, false, nil
	}

	return e, true, nil
}
