package sd

import (
	"testing"

	"github.com/kschamplin/someip/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRebootFlushesCachedServices(t *testing.T) {
	client := NewClient(DefaultClientConfig(), func(p Payload, ep transport.Endpoint) error { return nil })
	var events []Event
	client.OnEvent(func(e Event) { events = append(events, e) })

	remote := transport.StringEndpoint("192.168.1.50:30490")

	offer := Payload{Entries: []Entry{{
		Type: EntryTypeOffer, ServiceID: 0x1234, InstanceID: 1, TTL: 30,
	}}}
	client.HandleIncoming(offer, remote, 0, 42)
	require.Len(t, events, 1)
	assert.Equal(t, EventAvailable, events[0].Kind)

	events = nil
	rebootOffer := Payload{Reboot: true, Entries: []Entry{{
		Type: EntryTypeOffer, ServiceID: 0x5678, InstanceID: 2, TTL: 30,
	}}}
	client.HandleIncoming(rebootOffer, remote, 1, 3)

	var sawReboot, sawUnavailable1234, sawAvailable5678 bool
	for _, e := range events {
		switch {
		case e.Kind == EventReboot:
			sawReboot = true
		case e.Kind == EventUnavailable && e.ServiceID == 0x1234:
			sawUnavailable1234 = true
		case e.Kind == EventAvailable && e.ServiceID == 0x5678:
			sawAvailable5678 = true
		}
	}
	assert.True(t, sawReboot)
	assert.True(t, sawUnavailable1234)
	assert.True(t, sawAvailable5678)

	ep, ok := client.endpoints[remote.String()]
	require.True(t, ok)
	assert.Equal(t, uint16(3), ep.lastSessionID)
	_, stillCached := ep.instances[offerKey{0x1234, 1}]
	assert.False(t, stillCached)
}

func TestClientFirstContactDoesNotTriggerReboot(t *testing.T) {
	client := NewClient(DefaultClientConfig(), func(p Payload, ep transport.Endpoint) error { return nil })
	var events []Event
	client.OnEvent(func(e Event) { events = append(events, e) })

	remote := transport.StringEndpoint("192.168.1.51:30490")
	offer := Payload{Entries: []Entry{{Type: EntryTypeOffer, ServiceID: 1, InstanceID: 1, TTL: 30}}}
	client.HandleIncoming(offer, remote, 0, 3)

	for _, e := range events {
		assert.NotEqual(t, EventReboot, e.Kind)
	}
}

func TestClientSessionRegressionOutsideWrapTriggersReboot(t *testing.T) {
	client := NewClient(DefaultClientConfig(), func(p Payload, ep transport.Endpoint) error { return nil })
	var rebootSeen bool
	client.OnEvent(func(e Event) {
		if e.Kind == EventReboot {
			rebootSeen = true
		}
	})

	remote := transport.StringEndpoint("192.168.1.52:30490")
	client.HandleIncoming(Payload{}, remote, 0, 500)
	client.HandleIncoming(Payload{}, remote, 1, 100)

	assert.True(t, rebootSeen)
}

func TestClientStopOfferRemovesInstance(t *testing.T) {
	client := NewClient(DefaultClientConfig(), func(p Payload, ep transport.Endpoint) error { return nil })
	var events []Event
	client.OnEvent(func(e Event) { events = append(events, e) })

	remote := transport.StringEndpoint("192.168.1.53:30490")
	client.HandleIncoming(Payload{Entries: []Entry{{Type: EntryTypeOffer, ServiceID: 1, InstanceID: 1, TTL: 30}}}, remote, 0, 1)
	client.HandleIncoming(Payload{Entries: []Entry{{Type: EntryTypeOffer, ServiceID: 1, InstanceID: 1, TTL: 0}}}, remote, 1, 2)

	require.Len(t, events, 2)
	assert.Equal(t, EventUnavailable, events[1].Kind)
}
