package sd

import (
	"sync"

	"github.com/kschamplin/someip/pkg/transport"
)

// rebootWindow is the wrap-around tolerance for Session IDs: a
// regression counts as ordinary wraparound, not a reboot, only when the
// last ID is within rebootWindow of 0xFFFF and the new one is at most
// rebootWindow. Any other regression is a reboot. Matches the wrap
// tolerance used for the E2E counter (see e2e.wrapWindow); DESIGN.md
// records the decision to share this value between the two.
const rebootWindow = 10

// EventKind classifies a client-observed availability event.
type EventKind int

const (
	EventAvailable EventKind = iota
	EventUnavailable
	EventReboot
)

// Event is delivered to a client's callback, never while the client's
// internal lock is held.
type Event struct {
	Kind       EventKind
	ServiceID  uint16
	InstanceID uint16
	Endpoint   Option
}

// remoteInstance is a service instance currently believed available,
// keyed by (ServiceID, InstanceID) within one remote endpoint's table.
type remoteInstance struct {
	major      uint8
	minor      uint32
	ttl        uint32
	endpoint   Option
	lastUpdate uint64
}

// remoteEndpoint tracks one SD peer's session and the services it has
// offered: a single remote identity with its own sequence/session
// bookkeeping and a reboot-triggered reset, the same shape as a
// per-node heartbeat consumer entry.
type remoteEndpoint struct {
	lastSessionID uint16
	sessionKnown  bool
	instances     map[offerKey]*remoteInstance
}

// ClientConfig controls find repetition timing, in milliseconds.
type ClientConfig struct {
	FindInitialIntervalMs uint64
	FindMaxIntervalMs     uint64
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{FindInitialIntervalMs: 500, FindMaxIntervalMs: 4000}
}

type findRequest struct {
	serviceID  uint16
	nextFireMs uint64
	intervalMs uint64
}

// Client runs the find/availability/reboot-detection state machine.
type Client struct {
	mu        sync.Mutex
	cfg       ClientConfig
	endpoints map[string]*remoteEndpoint
	finds     map[uint16]*findRequest
	send      Sender
	onEvent   func(Event)
}

func NewClient(cfg ClientConfig, send Sender) *Client {
	return &Client{
		cfg:       cfg,
		endpoints: make(map[string]*remoteEndpoint),
		finds:     make(map[uint16]*findRequest),
		send:      send,
	}
}

// OnEvent registers the callback invoked for availability and reboot
// events.
func (c *Client) OnEvent(cb func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = cb
}

// FindService starts (or restarts) repeated Find-Service requests for
// serviceID.
func (c *Client) FindService(serviceID uint16, nowMs uint64) {
	c.mu.Lock()
	c.finds[serviceID] = &findRequest{
		serviceID:  serviceID,
		nextFireMs: nowMs,
		intervalMs: c.cfg.FindInitialIntervalMs,
	}
	c.mu.Unlock()
}

// StopFindService cancels outstanding Find-Service repetition for
// serviceID.
func (c *Client) StopFindService(serviceID uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.finds, serviceID)
}

// SubscribeEventgroup sends a Subscribe-Eventgroup entry referencing
// ownEndpoint to the service instance's unicast endpoint. Renewal
// before TTL expiry is the caller's responsibility (typically: call
// again with a timer fired one cycle shorter than ttl).
func (c *Client) SubscribeEventgroup(serviceID, instanceID, eventgroupID uint16, ttl uint32, ownEndpoint Option, target transport.Endpoint) error {
	p := Payload{
		Entries: []Entry{{
			Type:         EntryTypeSubscribeEventgroup,
			ServiceID:    serviceID,
			InstanceID:   instanceID,
			EventgroupID: eventgroupID,
			TTL:          ttl,
			Index1:       0,
			N1:           1,
		}},
		Options: []Option{ownEndpoint},
	}
	if c.send == nil {
		return nil
	}
	return c.send(p, target)
}

// UnsubscribeEventgroup sends the same Subscribe-Eventgroup entry with
// TTL=0.
func (c *Client) UnsubscribeEventgroup(serviceID, instanceID, eventgroupID uint16, ownEndpoint Option, target transport.Endpoint) error {
	return c.SubscribeEventgroup(serviceID, instanceID, eventgroupID, 0, ownEndpoint, target)
}

// Tick emits any Find-Service requests whose repetition interval has
// elapsed.
func (c *Client) Tick(nowMs uint64) {
	c.mu.Lock()
	var due []Entry
	for _, f := range c.finds {
		if nowMs < f.nextFireMs {
			continue
		}
		due = append(due, Entry{Type: EntryTypeFind, ServiceID: f.serviceID, MajorVersion: 0xFF})
		f.nextFireMs = nowMs + f.intervalMs
		f.intervalMs *= 2
		if f.intervalMs > c.cfg.FindMaxIntervalMs {
			f.intervalMs = c.cfg.FindMaxIntervalMs
		}
	}
	c.mu.Unlock()

	for _, e := range due {
		if c.send != nil {
			if err := c.send(Payload{Entries: []Entry{e}}, nil); err != nil {
				logger.Warnf("sd: client find send failed: %v", err)
			}
		}
	}
}

// HandleIncoming processes one SD message received from sender,
// applying reboot detection before dispatching its entries.
func (c *Client) HandleIncoming(p Payload, sender transport.Endpoint, nowMs uint64, sessionID uint16) {
	c.mu.Lock()
	key := sender.String()
	ep, exists := c.endpoints[key]
	if !exists {
		ep = &remoteEndpoint{instances: make(map[offerKey]*remoteInstance)}
		c.endpoints[key] = ep
	}

	rebooted := exists && ep.sessionKnown && (p.Reboot || sessionRegressed(ep.lastSessionID, sessionID))
	var flushed []Event
	if rebooted {
		for k, inst := range ep.instances {
			flushed = append(flushed, Event{Kind: EventUnavailable, ServiceID: k.serviceID, InstanceID: k.instanceID, Endpoint: inst.endpoint})
		}
		ep.instances = make(map[offerKey]*remoteInstance)
	}
	ep.lastSessionID = sessionID
	ep.sessionKnown = true

	var events []Event
	if rebooted {
		events = append(events, Event{Kind: EventReboot})
		events = append(events, flushed...)
	}

	for _, e := range p.Entries {
		switch e.Type {
		case EntryTypeOffer:
			opts, _ := p.OptionsFor(e)
			var endpoint Option
			if len(opts) > 0 {
				endpoint = opts[0]
			}
			k := offerKey{e.ServiceID, e.InstanceID}
			if e.TTL == 0 {
				if _, ok := ep.instances[k]; ok {
					delete(ep.instances, k)
					events = append(events, Event{Kind: EventUnavailable, ServiceID: e.ServiceID, InstanceID: e.InstanceID})
				}
				continue
			}
			_, wasKnown := ep.instances[k]
			ep.instances[k] = &remoteInstance{
				major:      e.MajorVersion,
				minor:      e.MinorVersion,
				ttl:        e.TTL,
				endpoint:   endpoint,
				lastUpdate: nowMs,
			}
			if !wasKnown {
				events = append(events, Event{Kind: EventAvailable, ServiceID: e.ServiceID, InstanceID: e.InstanceID, Endpoint: endpoint})
			}
		}
	}
	cb := c.onEvent
	c.mu.Unlock()

	if cb != nil {
		for _, ev := range events {
			cb(ev)
		}
	}
}

// sessionRegressed reports whether next is a meaningful regression from
// last, outside the small wrap-around tolerance expected of ordinary
// Session ID reuse (wrap 0xFFFF -> 0x0001).
func sessionRegressed(last, next uint16) bool {
	if next > last {
		return false
	}
	if last == next {
		return false
	}
	return !(last > 0xFFFF-rebootWindow && next <= rebootWindow)
}

// ExpireTTLs decrements finite TTLs by elapsedSec seconds and evicts any
// instance that reaches zero, reporting EventUnavailable for each.
func (c *Client) ExpireTTLs(elapsedSec uint32) {
	c.mu.Lock()
	var events []Event
	for _, ep := range c.endpoints {
		for k, inst := range ep.instances {
			if inst.ttl == InfiniteTTL {
				continue
			}
			if inst.ttl <= elapsedSec {
				delete(ep.instances, k)
				events = append(events, Event{Kind: EventUnavailable, ServiceID: k.serviceID, InstanceID: k.instanceID, Endpoint: inst.endpoint})
				continue
			}
			inst.ttl -= elapsedSec
		}
	}
	cb := c.onEvent
	c.mu.Unlock()

	if cb != nil {
		for _, ev := range events {
			cb(ev)
		}
	}
}
