package sd

import (
	"errors"
	"sync"

	"github.com/kschamplin/someip/pkg/transport"
)

var ErrResourceExhausted = errors.New("sd: resource exhausted")

// EvictionPolicy controls what OfferService does when MaxServices
// services are already offered.
type EvictionPolicy int

const (
	// RejectNew returns ErrResourceExhausted for the new offer.
	RejectNew EvictionPolicy = iota
	// EvictOldest removes the earliest-offered service to make room.
	EvictOldest
)

// phase is the offer-service lifecycle position: a
// state-enum-plus-timer-plus-callback shape generalized from a single
// network node's lifecycle state to a per-service offer schedule.
type phase int

const (
	phaseInitialWait phase = iota
	phaseRepetition
	phaseMain
	phaseRemoved
)

// ServerConfig controls offer scheduling timing, all in milliseconds.
type ServerConfig struct {
	InitialDelayMs    uint64
	RepetitionBaseMs  uint64
	RepetitionMaxMs   uint64
	RepetitionCount   int
	CyclicOfferMs     uint64
	MaxServices       int
	Eviction          EvictionPolicy
	// MulticastEndpoint is the group event subscribers join for event
	// delivery. When set, it is attached to every
	// Subscribe-Eventgroup-Ack so the subscriber learns where to listen.
	MulticastEndpoint Option
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		InitialDelayMs:   500,
		RepetitionBaseMs: 300,
		RepetitionMaxMs:  3000,
		RepetitionCount:  3,
		CyclicOfferMs:    2000,
		MaxServices:      256,
		Eviction:         RejectNew,
	}
}

type offerKey struct {
	serviceID  uint16
	instanceID uint16
}

type offeredService struct {
	entry          Entry
	endpoint       Option
	phase          phase
	repetition     int
	nextFireMs     uint64
	firstOfferedMs uint64
}

// Sender is the minimal egress capability the server state machine
// requires: serialize-and-send one SD payload to an endpoint, or to
// the well-known multicast group when ep is nil.
type Sender func(p Payload, ep transport.Endpoint) error

// Server runs the offer phase machine: it schedules Offer
// (re)transmission for every locally offered service and answers
// unicast Find-Service / Subscribe-Eventgroup requests.
type Server struct {
	mu       sync.Mutex
	cfg      ServerConfig
	services map[offerKey]*offeredService
	send     Sender
	session  uint16
}

func NewServer(cfg ServerConfig, send Sender) *Server {
	return &Server{
		cfg:      cfg,
		services: make(map[offerKey]*offeredService),
		send:     send,
	}
}

// OfferService registers a service to be offered, starting its
// Initial-Wait timer relative to nowMs.
func (s *Server) OfferService(serviceID, instanceID uint16, major uint8, minor uint32, ttl uint32, endpoint Option, nowMs uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := offerKey{serviceID, instanceID}
	if _, exists := s.services[k]; !exists && len(s.services) >= s.cfg.MaxServices {
		if s.cfg.Eviction == EvictOldest {
			s.evictOldestLocked()
		} else {
			return ErrResourceExhausted
		}
	}

	s.services[k] = &offeredService{
		entry: Entry{
			Type:         EntryTypeOffer,
			ServiceID:    serviceID,
			InstanceID:   instanceID,
			MajorVersion: major,
			MinorVersion: minor,
			TTL:          ttl,
		},
		endpoint:       endpoint,
		phase:          phaseInitialWait,
		nextFireMs:     nowMs + s.cfg.InitialDelayMs,
		firstOfferedMs: nowMs,
	}
	return nil
}

func (s *Server) evictOldestLocked() {
	var oldestKey offerKey
	var oldestMs uint64
	first := true
	for k, svc := range s.services {
		if first || svc.firstOfferedMs < oldestMs {
			oldestKey, oldestMs, first = k, svc.firstOfferedMs, false
		}
	}
	if !first {
		delete(s.services, oldestKey)
	}
}

// StopOfferService withdraws a service, sending a final Offer(TTL=0)
// on the next Tick and then removing it.
func (s *Server) StopOfferService(serviceID, instanceID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[offerKey{serviceID, instanceID}]
	if !ok {
		return
	}
	svc.entry.TTL = 0
	svc.phase = phaseMain
	svc.nextFireMs = 0
}

// Tick drives phase transitions and emits due Offers. Call
// periodically (e.g. every 50-100ms) with the current time.
func (s *Server) Tick(nowMs uint64) {
	s.mu.Lock()
	type due struct {
		entry    Entry
		endpoint Option
	}
	var fire []due
	for k, svc := range s.services {
		if svc.phase == phaseRemoved || nowMs < svc.nextFireMs {
			continue
		}
		fire = append(fire, due{svc.entry, svc.endpoint})

		if svc.entry.TTL == 0 {
			svc.phase = phaseRemoved
			delete(s.services, k)
			continue
		}

		switch svc.phase {
		case phaseInitialWait:
			svc.phase = phaseRepetition
			svc.repetition = 1
			svc.nextFireMs = nowMs + s.cfg.RepetitionBaseMs
		case phaseRepetition:
			if svc.repetition >= s.cfg.RepetitionCount {
				svc.phase = phaseMain
				svc.nextFireMs = nowMs + s.cfg.CyclicOfferMs
			} else {
				interval := s.cfg.RepetitionBaseMs << uint(svc.repetition)
				if interval > s.cfg.RepetitionMaxMs {
					interval = s.cfg.RepetitionMaxMs
				}
				svc.repetition++
				svc.nextFireMs = nowMs + interval
			}
		case phaseMain:
			svc.nextFireMs = nowMs + s.cfg.CyclicOfferMs
		}
	}
	s.mu.Unlock()

	for _, d := range fire {
		s.emit(d.entry, d.endpoint, nil)
	}
}

func (s *Server) emit(entry Entry, endpoint Option, ep transport.Endpoint) {
	s.mu.Lock()
	s.session++
	session := s.session
	s.mu.Unlock()

	p := Payload{Entries: []Entry{entry}}
	if endpoint.Type != 0 {
		p.Options = []Option{endpoint}
		p.Entries[0].Index1, p.Entries[0].N1 = 0, 1
	}
	if s.send != nil {
		if err := s.send(p, ep); err != nil {
			logger.Warnf("sd: server offer send failed: %v", err)
		}
	}
	_ = session
}

// HandleIncoming answers Find-Service with a unicast Offer, and
// Subscribe-Eventgroup with a Subscribe-Eventgroup-Ack, or a NACK when
// the service instance is not offered. The eventgroup ID is not
// checked: any eventgroup of an offered instance is acknowledged.
func (s *Server) HandleIncoming(p Payload, sender transport.Endpoint, nowMs uint64) {
	for _, e := range p.Entries {
		switch e.Type {
		case EntryTypeFind:
			s.handleFind(e, sender)
		case EntryTypeSubscribeEventgroup:
			s.handleSubscribe(e, sender)
		}
	}
}

func (s *Server) handleFind(e Entry, sender transport.Endpoint) {
	s.mu.Lock()
	svc, ok := s.services[offerKey{e.ServiceID, e.InstanceID}]
	var entry Entry
	var endpoint Option
	if ok {
		entry, endpoint = svc.entry, svc.endpoint
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.emit(entry, endpoint, sender)
}

func (s *Server) handleSubscribe(e Entry, sender transport.Endpoint) {
	s.mu.Lock()
	_, ok := s.services[offerKey{e.ServiceID, e.InstanceID}]
	s.mu.Unlock()

	ack := Entry{
		Type:         EntryTypeSubscribeEventgroupAck,
		ServiceID:    e.ServiceID,
		InstanceID:   e.InstanceID,
		MajorVersion: e.MajorVersion,
		EventgroupID: e.EventgroupID,
	}
	if ok {
		ack.TTL = e.TTL
	} else {
		ack.TTL = 0
	}

	s.mu.Lock()
	s.session++
	multicast := s.cfg.MulticastEndpoint
	s.mu.Unlock()

	p := Payload{Entries: []Entry{ack}}
	if ok && multicast.Type != 0 {
		p.Options = []Option{multicast}
		p.Entries[0].Index1, p.Entries[0].N1 = 0, 1
	}
	if s.send != nil {
		if err := s.send(p, sender); err != nil {
			logger.Warnf("sd: server subscribe ack send failed: %v", err)
		}
	}
}
