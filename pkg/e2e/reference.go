package e2e

import (
	"fmt"
	"sync"

	"github.com/kschamplin/someip/internal/crc"
	"github.com/kschamplin/someip/pkg/someip"
)

// wrapWindow is the size of the counter wrap-around acceptance window.
// It has the same value as the SD client's separate rebootWindow
// constant; DESIGN.md records why the two are kept apart.
const wrapWindow = 10

// ReferenceProfile implements the public reference profile: CRC +
// per-DataID counter + freshness, built directly on the CRC primitives
// in internal/crc. Shaped like a block-transfer's CRC/sequence-number
// bookkeeping, generalized from a single in-flight transfer to a
// per-DataID table since many concurrent DataIDs may be
// protected/validated by one profile instance.
type ReferenceProfile struct {
	mu               sync.Mutex
	protectCounters  map[uint16]uint32
	validateCounters map[uint16]uint32
}

func NewReferenceProfile() *ReferenceProfile {
	return &ReferenceProfile{
		protectCounters:  make(map[uint16]uint32),
		validateCounters: make(map[uint16]uint32),
	}
}

func (p *ReferenceProfile) ID() uint32   { return ReferenceProfileID }
func (p *ReferenceProfile) Name() string { return ReferenceProfileName }

// crcOverRegion computes the configured-width CRC over header||payload,
// where header already carries the future Length (E2E size included).
func crcOverRegion(width CRCWidth, header, payload []byte) uint32 {
	region := make([]byte, 0, len(header)+len(payload))
	region = append(region, header...)
	region = append(region, payload...)
	switch width {
	case CRCWidth8:
		return uint32(crc.ComputeCRC8(region))
	case CRCWidth16:
		return uint32(crc.ComputeCRC16(region))
	case CRCWidth32:
		return crc.ComputeCRC32(region)
	default:
		return 0
	}
}

// Protect computes and attaches the E2E header described by cfg,
// mutating msg. The protect-side counter for cfg.DataID is advanced as
// a side effect when counters are enabled; no freshness state is
// stored, the freshness value is read from clock on each call.
func (p *ReferenceProfile) Protect(msg *someip.Message, cfg *Config, clock Clock) error {
	futureLength := 8 + someip.E2EHeaderSize + uint32(len(msg.Payload))
	header, err := msg.HeaderBytesForLength(futureLength)
	if err != nil {
		return err
	}

	var crcVal uint32
	if cfg.EnableCRC {
		crcVal = crcOverRegion(cfg.CRCWidth, header, msg.Payload)
	}

	p.mu.Lock()
	counter := p.protectCounters[cfg.DataID]
	next := counter + 1
	if next > cfg.MaxCounterValue || next == 0 {
		next = 1
	}
	if cfg.EnableCounter {
		p.protectCounters[cfg.DataID] = next
	} else {
		next = 0
	}
	p.mu.Unlock()

	var freshness uint16
	if cfg.EnableFreshness {
		freshness = uint16(clock.NowMs() & 0xFFFF)
	}

	msg.SetE2EHeader(someip.E2EHeader{
		CRC:       crcVal,
		Counter:   next,
		DataID:    cfg.DataID,
		Freshness: freshness,
	})
	return nil
}

// Validate checks msg's attached E2E header against cfg, advancing the
// stored counter for cfg.DataID when the counter check accepts a
// strictly-newer value.
func (p *ReferenceProfile) Validate(msg *someip.Message, cfg *Config, clock Clock) error {
	if msg.E2E == nil {
		return ErrInvalidArgument
	}
	hdr := msg.E2E

	if hdr.DataID != cfg.DataID {
		return fmt.Errorf("%w: data id %04x != configured %04x", ErrInvalidArgument, hdr.DataID, cfg.DataID)
	}

	if cfg.EnableCRC {
		header, err := msg.HeaderBytesForLength(msg.Length())
		if err != nil {
			return err
		}
		computed := crcOverRegion(cfg.CRCWidth, header, msg.Payload)
		if computed != hdr.CRC {
			return fmt.Errorf("%w: crc mismatch", ErrInvalidArgument)
		}
	}

	if cfg.EnableCounter {
		if err := p.checkCounter(cfg.DataID, hdr.Counter, cfg.MaxCounterValue); err != nil {
			return err
		}
	}

	if cfg.EnableFreshness {
		now16 := uint16(clock.NowMs() & 0xFFFF)
		d := uint16(now16 - hdr.Freshness) // unsigned wraps naturally (mod 2^16)
		if cfg.FreshnessTimeoutMs < d && d < (0-cfg.FreshnessTimeoutMs) {
			return ErrTimeout
		}
	}

	return nil
}

func (p *ReferenceProfile) checkCounter(dataID uint16, c uint32, max uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	last := p.validateCounters[dataID]
	switch {
	case last == 0:
		if c < 1 || c > max {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrReplay)
		}
		p.validateCounters[dataID] = c
		return nil
	case c == last:
		return nil
	case c > last:
		p.validateCounters[dataID] = c
		return nil
	default: // c < last
		inWrapWindow := last > max-wrapWindow && c >= 1 && c <= wrapWindow
		if !inWrapWindow {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrReplay)
		}
		p.validateCounters[dataID] = c
		return nil
	}
}
