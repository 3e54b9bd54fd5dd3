// Package config loads the static .ini configuration this stack needs
// for the two things the wire format cannot self-describe: which
// (ServiceID, MethodID) pairs carry an End-to-End header and under
// which profile/DataID, and the timing constants the Service Discovery
// and Transport Protocol state machines run under. Uses
// gopkg.in/ini.v1 the same way an EDS-file parser would: load, walk
// sections, pick values out with Section.Key.
package config

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/kschamplin/someip/pkg/e2e"
)

var logger = logrus.WithField("component", "config")

// sectionKeyExp matches the unquoted "ServiceID.MethodID" part of an
// [e2e "ServiceID.MethodID"] section name, e.g. "1234.8001", with both
// IDs in hex.
var sectionKeyExp = regexp.MustCompile(`^([0-9A-Fa-f]{1,4})\.([0-9A-Fa-f]{1,4})$`)

// E2EBinding is one [e2e "ServiceID.MethodID"] entry: the E2E profile
// and per-call Config to apply to a given RPC method.
type E2EBinding struct {
	ServiceID uint16
	MethodID  uint16
	ProfileID uint32
	Config    e2e.Config
}

// SDTiming mirrors sd.ServerConfig/sd.ClientConfig, read from the [sd]
// section. Load starts from the package defaults and overwrites only
// the fields whose keys are present in the section.
type SDTiming struct {
	InitialDelayMs        uint64
	RepetitionBaseMs      uint64
	RepetitionMaxMs       uint64
	RepetitionCount       int
	CyclicOfferMs         uint64
	FindInitialIntervalMs uint64
	FindMaxIntervalMs     uint64
	DefaultTTL            uint32
}

// TPLimits mirrors the tp package's tunables, read from the [tp]
// section.
type TPLimits struct {
	MaxSegmentSize          uint32
	MaxMessageSize          uint32
	ReassemblyTimeoutMs     uint64
	MaxConcurrentReassembly int
}

// File is a parsed configuration: the E2E bindings table plus the SD
// and TP timing sections.
type File struct {
	E2E []E2EBinding
	SD  SDTiming
	TP  TPLimits
}

// Lookup returns the E2E binding for (serviceID, methodID), if one is
// configured; ok is false otherwise. someip.Deserialize does not call
// Lookup: its E2E-presence heuristic runs on every message whether or
// not a binding is loaded here.
func (f *File) Lookup(serviceID, methodID uint16) (E2EBinding, bool) {
	for _, b := range f.E2E {
		if b.ServiceID == serviceID && b.MethodID == methodID {
			return b, true
		}
	}
	return E2EBinding{}, false
}

// Load parses file (a path, *os.File, or []byte, per ini.Load) into a
// File, applying package defaults for any timing key absent from the
// file.
func Load(file any) (*File, error) {
	src, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	f := &File{
		SD: defaultSDTiming(),
		TP: defaultTPLimits(),
	}

	for _, section := range src.Sections() {
		name := section.Name()
		switch {
		case name == "sd":
			if err := loadSDTiming(section, &f.SD); err != nil {
				return nil, err
			}
		case name == "tp":
			if err := loadTPLimits(section, &f.TP); err != nil {
				return nil, err
			}
		default:
			binding, ok, err := parseE2ESection(name, section)
			if err != nil {
				return nil, err
			}
			if ok {
				f.E2E = append(f.E2E, binding)
			}
		}
	}
	return f, nil
}

func defaultSDTiming() SDTiming {
	return SDTiming{
		InitialDelayMs:        500,
		RepetitionBaseMs:      300,
		RepetitionMaxMs:       3000,
		RepetitionCount:       3,
		CyclicOfferMs:         2000,
		FindInitialIntervalMs: 500,
		FindMaxIntervalMs:     4000,
		DefaultTTL:            30,
	}
}

func defaultTPLimits() TPLimits {
	return TPLimits{
		MaxSegmentSize:          1392,
		MaxMessageSize:          1 << 20,
		ReassemblyTimeoutMs:     5000,
		MaxConcurrentReassembly: 256,
	}
}

func loadSDTiming(section *ini.Section, t *SDTiming) error {
	set := func(key string, dst *uint64) error {
		if !section.HasKey(key) {
			return nil
		}
		v, err := section.Key(key).Uint64()
		if err != nil {
			return fmt.Errorf("config: [sd] %s: %w", key, err)
		}
		*dst = v
		return nil
	}
	if err := set("initial_delay", &t.InitialDelayMs); err != nil {
		return err
	}
	if err := set("repetition_base", &t.RepetitionBaseMs); err != nil {
		return err
	}
	if err := set("repetition_max", &t.RepetitionMaxMs); err != nil {
		return err
	}
	if err := set("cyclic_offer", &t.CyclicOfferMs); err != nil {
		return err
	}
	if err := set("find_initial_interval", &t.FindInitialIntervalMs); err != nil {
		return err
	}
	if err := set("find_max_interval", &t.FindMaxIntervalMs); err != nil {
		return err
	}
	if section.HasKey("repetition_count") {
		v, err := section.Key("repetition_count").Int()
		if err != nil {
			return fmt.Errorf("config: [sd] repetition_count: %w", err)
		}
		t.RepetitionCount = v
	}
	if section.HasKey("ttl") {
		v, err := section.Key("ttl").Uint64()
		if err != nil {
			return fmt.Errorf("config: [sd] ttl: %w", err)
		}
		t.DefaultTTL = uint32(v)
	}
	return nil
}

func loadTPLimits(section *ini.Section, t *TPLimits) error {
	if section.HasKey("max_segment_size") {
		v, err := section.Key("max_segment_size").Uint()
		if err != nil {
			return fmt.Errorf("config: [tp] max_segment_size: %w", err)
		}
		t.MaxSegmentSize = uint32(v)
	}
	if section.HasKey("max_message_size") {
		v, err := section.Key("max_message_size").Uint()
		if err != nil {
			return fmt.Errorf("config: [tp] max_message_size: %w", err)
		}
		t.MaxMessageSize = uint32(v)
	}
	if section.HasKey("reassembly_timeout") {
		v, err := section.Key("reassembly_timeout").Uint64()
		if err != nil {
			return fmt.Errorf("config: [tp] reassembly_timeout: %w", err)
		}
		t.ReassemblyTimeoutMs = v
	}
	if section.HasKey("max_concurrent_reassemblies") {
		v, err := section.Key("max_concurrent_reassemblies").Int()
		if err != nil {
			return fmt.Errorf("config: [tp] max_concurrent_reassemblies: %w", err)
		}
		t.MaxConcurrentReassembly = v
	}
	return nil
}

// parseE2ESection recognizes section names of the form
// `e2e "1234.8001"` and parses their key/value pairs into an
// E2EBinding. Any other section name is ignored (ok=false), the same
// way an EDS-style parser skips sections that don't match its
// index/subindex patterns.
func parseE2ESection(name string, section *ini.Section) (E2EBinding, bool, error) {
	const prefix = "e2e "
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return E2EBinding{}, false, nil
	}
	key := trimQuotes(name[len(prefix):])
	m := sectionKeyExp.FindStringSubmatch(key)
	if m == nil {
		return E2EBinding{}, false, fmt.Errorf("config: malformed e2e section name %q", name)
	}
	serviceID, err := strconv.ParseUint(m[1], 16, 16)
	if err != nil {
		return E2EBinding{}, false, err
	}
	methodID, err := strconv.ParseUint(m[2], 16, 16)
	if err != nil {
		return E2EBinding{}, false, err
	}

	b := E2EBinding{
		ServiceID: uint16(serviceID),
		MethodID:  uint16(methodID),
		ProfileID: e2e.ReferenceProfileID,
	}

	if section.HasKey("profile_id") {
		v, err := section.Key("profile_id").Uint()
		if err != nil {
			return E2EBinding{}, false, fmt.Errorf("config: %s profile_id: %w", name, err)
		}
		b.ProfileID = uint32(v)
	}

	dataID, err := section.Key("data_id").Uint()
	if err != nil {
		return E2EBinding{}, false, fmt.Errorf("config: %s data_id: %w", name, err)
	}
	b.Config.DataID = uint16(dataID)

	b.Config.EnableCRC = section.Key("crc").MustBool(true)
	switch section.Key("crc_width").MustString("crc8") {
	case "crc8":
		b.Config.CRCWidth = e2e.CRCWidth8
	case "crc16":
		b.Config.CRCWidth = e2e.CRCWidth16
	case "crc32":
		b.Config.CRCWidth = e2e.CRCWidth32
	default:
		return E2EBinding{}, false, fmt.Errorf("config: %s crc_width: unrecognized value %q", name, section.Key("crc_width").String())
	}

	b.Config.EnableCounter = section.Key("counter").MustBool(true)
	b.Config.MaxCounterValue = uint32(section.Key("max_counter").MustUint(0x0F))

	b.Config.EnableFreshness = section.Key("freshness").MustBool(false)
	b.Config.FreshnessTimeoutMs = uint16(section.Key("freshness_timeout_ms").MustUint(1000))

	logger.Debugf("loaded e2e binding for service %#04x method %#04x: data id %#04x", b.ServiceID, b.MethodID, b.Config.DataID)
	return b, true, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
