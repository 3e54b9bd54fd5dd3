package sd

import (
	"github.com/kschamplin/someip/internal/wire"
	"github.com/kschamplin/someip/pkg/someip"
)

// FlagReboot and FlagUnicast are the two defined bits of the SD Flags
// byte; bits 5..0 are reserved and must be 0 on send, ignored on
// receive.
const (
	FlagReboot  uint8 = 0x80
	FlagUnicast uint8 = 0x40
)

// Payload is a decoded SD message body: the flags byte plus the entry
// and option arrays it references.
type Payload struct {
	Reboot  bool
	Unicast bool
	Entries []Entry
	Options []Option
}

// OptionsFor resolves the option run an entry references: options at
// [Index1, Index1+N1) followed by [Index2, Index2+N2).
func (p Payload) OptionsFor(e Entry) ([]Option, error) {
	run := make([]Option, 0, int(e.N1)+int(e.N2))
	for _, span := range [][2]uint8{{e.Index1, e.N1}, {e.Index2, e.N2}} {
		start, n := int(span[0]), int(span[1])
		if n == 0 {
			continue
		}
		if start+n > len(p.Options) {
			return nil, ErrMalformedMessage
		}
		run = append(run, p.Options[start:start+n]...)
	}
	return run, nil
}

// Encode renders p as a full SOME/IP message: the fixed SD framing
// (Service 0xFFFF, Method 0x8100, Client 0x0000, Notification, E_OK)
// plus the Flags/EntriesLen/Entries/OptionsLen/Options body.
func Encode(p Payload, sessionID uint16) (*someip.Message, error) {
	var entriesBuf, optionsBuf []byte

	for _, e := range p.Entries {
		eb := make([]byte, EntrySize)
		w := wire.NewWriter(eb)
		if err := e.encode(w); err != nil {
			return nil, err
		}
		entriesBuf = append(entriesBuf, eb...)
	}

	for _, o := range p.Options {
		// Options vary in size; encode into a generously sized scratch
		// buffer, then trim to what was actually written.
		scratch := make([]byte, 64)
		w := wire.NewWriter(scratch)
		if err := o.encode(w); err != nil {
			return nil, err
		}
		optionsBuf = append(optionsBuf, w.Bytes()...)
	}

	body := make([]byte, 0, 8+len(entriesBuf)+4+len(optionsBuf))
	flags := uint8(0)
	if p.Reboot {
		flags |= FlagReboot
	}
	if p.Unicast {
		flags |= FlagUnicast
	}
	bw := wire.NewWriter(make([]byte, 8))
	if err := bw.WriteUint8(flags); err != nil {
		return nil, err
	}
	if err := bw.WriteUint8(0); err != nil {
		return nil, err
	}
	if err := bw.WriteUint8(0); err != nil {
		return nil, err
	}
	if err := bw.WriteUint8(0); err != nil {
		return nil, err
	}
	if err := bw.WriteUint32(uint32(len(entriesBuf))); err != nil {
		return nil, err
	}
	body = append(body, bw.Bytes()...)
	body = append(body, entriesBuf...)

	ow := wire.NewWriter(make([]byte, 4))
	if err := ow.WriteUint32(uint32(len(optionsBuf))); err != nil {
		return nil, err
	}
	body = append(body, ow.Bytes()...)
	body = append(body, optionsBuf...)

	msg := someip.NewMessage(someip.ServiceIdSD, someip.MethodIdSD, 0x0000, sessionID, someip.MessageTypeNotification)
	msg.SetPayload(body)
	return msg, nil
}

// Decode parses an SD payload from msg, validating the SD-specific
// framing invariants before interpreting the body. An entry whose
// option run reaches past the decoded Options array fails the whole
// decode with ErrMalformedMessage.
func Decode(msg *someip.Message) (Payload, error) {
	if !msg.IsSD() {
		return Payload{}, ErrNotSDMessage
	}
	if msg.ClientID != 0x0000 || msg.ProtocolVersion != 0x01 || msg.InterfaceVersion != 0x01 {
		return Payload{}, ErrMalformedMessage
	}
	if msg.Type != someip.MessageTypeNotification || msg.ReturnCode != someip.ReturnCodeOk {
		return Payload{}, ErrMalformedMessage
	}

	r := wire.NewReader(msg.Payload)
	flags, err := r.ReadUint8()
	if err != nil {
		return Payload{}, ErrMalformedMessage
	}
	if _, err := r.ReadBytes(3); err != nil { // reserved
		return Payload{}, ErrMalformedMessage
	}
	entriesLen, err := r.ReadUint32()
	if err != nil {
		return Payload{}, ErrMalformedMessage
	}
	if int(entriesLen) > r.Remaining() {
		return Payload{}, ErrMalformedMessage
	}
	entriesBuf, err := r.ReadBytes(int(entriesLen))
	if err != nil {
		return Payload{}, ErrMalformedMessage
	}
	if entriesLen%EntrySize != 0 {
		return Payload{}, ErrMalformedMessage
	}

	optionsLen, err := r.ReadUint32()
	if err != nil {
		return Payload{}, ErrMalformedMessage
	}
	if int(optionsLen) > r.Remaining() {
		return Payload{}, ErrMalformedMessage
	}
	optionsBuf, err := r.ReadBytes(int(optionsLen))
	if err != nil {
		return Payload{}, ErrMalformedMessage
	}

	p := Payload{
		Reboot:  flags&FlagReboot != 0,
		Unicast: flags&FlagUnicast != 0,
	}

	for off := uint32(0); off < entriesLen; off += EntrySize {
		entry, ok, err := decodeEntry(entriesBuf[off : off+EntrySize])
		if err != nil {
			return Payload{}, err
		}
		if !ok {
			continue
		}
		p.Entries = append(p.Entries, entry)
	}

	or := wire.NewReader(optionsBuf)
	for or.Remaining() > 0 {
		opt, err := decodeOption(or)
		if err != nil {
			return Payload{}, err
		}
		p.Options = append(p.Options, opt)
	}

	for _, e := range p.Entries {
		if _, err := p.OptionsFor(e); err != nil {
			return Payload{}, err
		}
	}

	return p, nil
}
