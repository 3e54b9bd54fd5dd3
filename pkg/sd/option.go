// Package sd implements the Service Discovery sub-protocol: the
// entry/option wire codec, the server-side offer phase machine, and
// the client-side find/availability/reboot-detection state machine.
// The server builds on a state-enum-plus-timer-plus-callback state
// machine and the client on a per-remote-entry TTL tracker with event
// callbacks, both generalized from a single network node id to service
// instances and IP endpoints.
package sd

import (
	"errors"
	"fmt"
	"net"

	"github.com/kschamplin/someip/internal/wire"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "sd")

var (
	ErrMalformedMessage = errors.New("sd: malformed message")
	ErrNotSDMessage     = errors.New("sd: not a service discovery message")
)

// OptionType identifies the kind of data an Option carries.
type OptionType uint8

const (
	OptionTypeConfiguration OptionType = 0x01
	OptionTypeIPv4Endpoint  OptionType = 0x04
	OptionTypeIPv6Endpoint  OptionType = 0x06
	OptionTypeIPv4Multicast OptionType = 0x14
	OptionTypeIPv6Multicast OptionType = 0x16
)

// L4Proto identifies the transport protocol referenced by an endpoint
// option.
type L4Proto uint8

const (
	L4ProtoUDP L4Proto = 0x11
	L4ProtoTCP L4Proto = 0x06
)

// Option is a single SD option. Exactly one of the typed payload
// fields is meaningful, selected by Type. Data(Length) per the wire
// layout means Length carries the byte count of everything after the
// Type/Reserved pair, not the Type/Reserved bytes themselves.
type Option struct {
	Type   OptionType
	IP     net.IP
	L4     L4Proto
	Port   uint16
	Config string
}

func IPv4Endpoint(ip net.IP, proto L4Proto, port uint16) Option {
	return Option{Type: OptionTypeIPv4Endpoint, IP: ip.To4(), L4: proto, Port: port}
}

func IPv4Multicast(ip net.IP, port uint16) Option {
	return Option{Type: OptionTypeIPv4Multicast, IP: ip.To4(), Port: port}
}

func (o Option) encode(w *wire.Writer) error {
	switch o.Type {
	case OptionTypeIPv4Endpoint:
		if err := w.WriteUint16(8); err != nil {
			return err
		}
		if err := w.WriteUint8(uint8(o.Type)); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil { // reserved (option header)
			return err
		}
		ip4 := to4OrZero(o.IP)
		if err := w.WriteBytes(ip4); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil { // reserved (endpoint data)
			return err
		}
		if err := w.WriteUint8(uint8(o.L4)); err != nil {
			return err
		}
		return w.WriteUint16(o.Port)

	case OptionTypeIPv4Multicast:
		if err := w.WriteUint16(7); err != nil {
			return err
		}
		if err := w.WriteUint8(uint8(o.Type)); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil {
			return err
		}
		ip4 := to4OrZero(o.IP)
		if err := w.WriteBytes(ip4); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil { // reserved (multicast data)
			return err
		}
		return w.WriteUint16(o.Port)

	case OptionTypeIPv6Endpoint:
		if err := w.WriteUint16(20); err != nil {
			return err
		}
		if err := w.WriteUint8(uint8(o.Type)); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil {
			return err
		}
		ip6 := o.IP.To16()
		if ip6 == nil {
			ip6 = net.IPv6zero
		}
		if err := w.WriteBytes(ip6); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil {
			return err
		}
		if err := w.WriteUint8(uint8(o.L4)); err != nil {
			return err
		}
		return w.WriteUint16(o.Port)

	case OptionTypeConfiguration:
		data := []byte(o.Config)
		if err := w.WriteUint16(uint16(len(data))); err != nil {
			return err
		}
		if err := w.WriteUint8(uint8(o.Type)); err != nil {
			return err
		}
		if err := w.WriteUint8(0); err != nil {
			return err
		}
		return w.WriteBytes(data)

	default:
		return fmt.Errorf("sd: encode unsupported option type %x", o.Type)
	}
}

func to4OrZero(ip net.IP) []byte {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return net.IPv4zero.To4()
}

// decodeOption reads one option: Length(2) | Type(1) | Reserved(1) |
// Data(Length).
func decodeOption(r *wire.Reader) (Option, error) {
	length, err := r.ReadUint16()
	if err != nil {
		return Option{}, ErrMalformedMessage
	}
	typ, err := r.ReadUint8()
	if err != nil {
		return Option{}, ErrMalformedMessage
	}
	if _, err := r.ReadUint8(); err != nil { // reserved
		return Option{}, ErrMalformedMessage
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return Option{}, ErrMalformedMessage
	}

	switch OptionType(typ) {
	case OptionTypeIPv4Endpoint:
		if len(data) != 8 {
			logger.Warnf("sd: malformed ipv4 endpoint option length %d", len(data))
			return Option{Type: OptionTypeIPv4Endpoint}, nil
		}
		ip := net.IPv4(data[0], data[1], data[2], data[3])
		warnIfReservedIPv4(ip)
		port := uint16(data[6])<<8 | uint16(data[7])
		return Option{Type: OptionTypeIPv4Endpoint, IP: ip, L4: L4Proto(data[5]), Port: port}, nil

	case OptionTypeIPv4Multicast:
		if len(data) != 7 {
			logger.Warnf("sd: malformed ipv4 multicast option length %d", len(data))
			return Option{Type: OptionTypeIPv4Multicast}, nil
		}
		ip := net.IPv4(data[0], data[1], data[2], data[3])
		warnIfReservedIPv4(ip)
		port := uint16(data[5])<<8 | uint16(data[6])
		return Option{Type: OptionTypeIPv4Multicast, IP: ip, Port: port}, nil

	case OptionTypeIPv6Endpoint:
		if len(data) != 20 {
			logger.Warnf("sd: malformed ipv6 endpoint option length %d", len(data))
			return Option{Type: OptionTypeIPv6Endpoint}, nil
		}
		ip := net.IP(append([]byte(nil), data[0:16]...))
		port := uint16(data[18])<<8 | uint16(data[19])
		return Option{Type: OptionTypeIPv6Endpoint, IP: ip, L4: L4Proto(data[17]), Port: port}, nil

	case OptionTypeConfiguration:
		return Option{Type: OptionTypeConfiguration, Config: string(data)}, nil

	default:
		// Unknown option type: skipped, not an error.
		return Option{Type: OptionType(typ)}, nil
	}
}

func warnIfReservedIPv4(ip net.IP) {
	if ip.Equal(net.IPv4zero) || ip.Equal(net.IPv4bcast) {
		logger.Warnf("sd: option carries reserved ipv4 address %s", ip)
	}
}
