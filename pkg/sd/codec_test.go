package sd

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeOfferRoundTrip(t *testing.T) {
	ep := IPv4Endpoint(net.IPv4(10, 0, 0, 1), L4ProtoUDP, 30500)
	p := Payload{
		Entries: []Entry{{
			Type:         EntryTypeOffer,
			Index1:       0,
			N1:           1,
			ServiceID:    0x1234,
			InstanceID:   0x0001,
			MajorVersion: 1,
			TTL:          30,
			MinorVersion: 0,
		}},
		Options: []Option{ep},
	}

	msg, err := Encode(p, 1)
	require.NoError(t, err)

	decoded, err := Decode(msg)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 1)
	require.Len(t, decoded.Options, 1)

	e := decoded.Entries[0]
	assert.Equal(t, EntryTypeOffer, e.Type)
	assert.Equal(t, uint16(0x1234), e.ServiceID)
	assert.Equal(t, uint16(0x0001), e.InstanceID)
	assert.Equal(t, uint32(30), e.TTL)

	opts, err := decoded.OptionsFor(e)
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.True(t, opts[0].IP.Equal(net.IPv4(10, 0, 0, 1)))
	assert.Equal(t, uint16(30500), opts[0].Port)
}

func TestDecodeRejectsNonSDMessage(t *testing.T) {
	p := Payload{Entries: []Entry{{Type: EntryTypeFind, ServiceID: 1}}}
	msg, err := Encode(p, 1)
	require.NoError(t, err)
	msg.ServiceID = 0x1111

	_, err = Decode(msg)
	assert.ErrorIs(t, err, ErrNotSDMessage)
}

func TestStopOfferHasZeroTTL(t *testing.T) {
	e := Entry{Type: EntryTypeOffer, TTL: 0}
	assert.True(t, e.IsStopOffer())
}

func TestSubscribeAckRoundTrip(t *testing.T) {
	p := Payload{
		Entries: []Entry{{
			Type:         EntryTypeSubscribeEventgroupAck,
			ServiceID:    0x1234,
			InstanceID:   1,
			MajorVersion: 1,
			TTL:          30,
			EventgroupID: 0x0010,
		}},
	}
	msg, err := Encode(p, 2)
	require.NoError(t, err)
	decoded, err := Decode(msg)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, uint16(0x0010), decoded.Entries[0].EventgroupID)
}

func TestDecodeSkipsUnknownEntryType(t *testing.T) {
	p := Payload{Entries: []Entry{
		{Type: 0x5A, ServiceID: 1}, // unrecognized, skipped
		{Type: EntryTypeFind, ServiceID: 2},
	}}
	msg, err := Encode(p, 1)
	require.NoError(t, err)
	decoded, err := Decode(msg)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, uint16(2), decoded.Entries[0].ServiceID)
}
