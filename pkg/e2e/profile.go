// Package e2e implements the End-to-End protection layer: a pluggable
// profile registry plus a reference profile built from the CRC
// primitives in internal/crc. Protect/Validate mutate and inspect a
// someip.Message's optional E2E header.
package e2e

import (
	"errors"

	"github.com/kschamplin/someip/pkg/someip"
)

var (
	// ErrInvalidArgument covers a DataID mismatch or CRC mismatch
	// during validation.
	ErrInvalidArgument = errors.New("e2e: invalid argument")
	// ErrTimeout is returned when freshness validation finds the
	// message stale.
	ErrTimeout = errors.New("e2e: freshness timeout")
	// ErrNotInitialized is returned when a profile is looked up but
	// not registered.
	ErrNotInitialized = errors.New("e2e: profile not initialized")
	// ErrReplay is returned when the counter check rejects a message
	// as a replay (outside both the monotonic and wrap-around cases).
	ErrReplay = errors.New("e2e: counter replay detected")
	// ErrDuplicateProfile is returned by Register when the id or name
	// is already taken.
	ErrDuplicateProfile = errors.New("e2e: duplicate profile id or name")
)

// CRCWidth selects which CRC primitive the reference profile uses.
type CRCWidth uint8

const (
	CRCWidth8  CRCWidth = 0
	CRCWidth16 CRCWidth = 1
	CRCWidth32 CRCWidth = 2
)

// Config enumerates the options recognized by the reference profile.
type Config struct {
	DataID             uint16
	EnableCRC          bool
	CRCWidth           CRCWidth
	EnableCounter      bool
	MaxCounterValue    uint32
	EnableFreshness    bool
	FreshnessTimeoutMs uint16
}

// Clock supplies the monotonic millisecond time used for freshness.
// Kept as a narrow local interface (rather than importing
// pkg/transport) so e2e has no dependency on the transport boundary.
type Clock interface {
	NowMs() uint64
}

// Profile is the pluggable E2E protection contract. Implementations
// are owned exclusively by the Registry once registered.
type Profile interface {
	ID() uint32
	Name() string
	Protect(msg *someip.Message, cfg *Config, clock Clock) error
	Validate(msg *someip.Message, cfg *Config, clock Clock) error
}
