package tp

import (
	"testing"

	"github.com/kschamplin/someip/pkg/someip"
	"github.com/kschamplin/someip/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var src = transport.StringEndpoint("10.0.0.1:30509")

func TestReassembleInOrder(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(3000)
	segs, err := s.Segment(msg)
	require.NoError(t, err)
	require.Len(t, segs, 3)

	r := NewReassembler(0, 0)

	for i, seg := range segs {
		out, err := r.Process(src, seg, 1000)
		require.NoError(t, err)
		if i < len(segs)-1 {
			assert.Nil(t, out)
		} else {
			require.NotNil(t, out)
			assert.Equal(t, msg.Payload, out.Payload)
			assert.Equal(t, msg.ServiceID, out.ServiceID)
			assert.Equal(t, msg.MethodID, out.MethodID)
			assert.Equal(t, msg.SessionID, out.SessionID)
		}
	}

	assert.False(t, r.IsReassembling(src, msg.ServiceID, msg.MethodID, msg.SessionID))
}

func TestReassembleOutOfOrderAndDuplicate(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(3000)
	segs, err := s.Segment(msg)
	require.NoError(t, err)
	require.Len(t, segs, 3)

	r := NewReassembler(0, 0)

	// Deliver last, then first (duplicated), then first, then middle.
	out, err := r.Process(src, segs[2], 1000)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = r.Process(src, segs[0], 1000)
	require.NoError(t, err)
	assert.Nil(t, out)

	// Duplicate of the first segment: ignored, no error.
	out, err = r.Process(src, segs[0], 1000)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = r.Process(src, segs[1], 1000)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, msg.Payload, out.Payload)
}

func TestReassembleTimeout(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(2000)
	segs, err := s.Segment(msg)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	r := NewReassembler(100, 0)

	_, err = r.Process(src, segs[0], 0)
	require.NoError(t, err)
	assert.True(t, r.IsReassembling(src, msg.ServiceID, msg.MethodID, msg.SessionID))

	var timeouts int
	r.ProcessTimeouts(150, func(e error) {
		timeouts++
		assert.ErrorIs(t, e, ErrReassemblyTimeout)
	})
	assert.Equal(t, 1, timeouts)
	assert.False(t, r.IsReassembling(src, msg.ServiceID, msg.MethodID, msg.SessionID))

	r.ProcessTimeouts(200, func(e error) { timeouts++ })
	assert.Equal(t, 1, timeouts)
}

func TestReassembleResourceExhaustedRejectsNew(t *testing.T) {
	s := NewSegmenter(1024)
	r := NewReassembler(0, 1)

	msg1 := newMessage(2000)
	segs1, err := s.Segment(msg1)
	require.NoError(t, err)
	_, err = r.Process(src, segs1[0], 0)
	require.NoError(t, err)

	msg2 := someip.NewMessage(msg1.ServiceID, msg1.MethodID, msg1.ClientID, 0x9999, msg1.Type)
	msg2.SetPayload(msg1.Payload)
	segs2, err := s.Segment(msg2)
	require.NoError(t, err)
	_, err = r.Process(src, segs2[0], 0)
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestReassembleMalformedTotalLengthMismatch(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(2000)
	segs, err := s.Segment(msg)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	r := NewReassembler(0, 0)
	_, err = r.Process(src, segs[1], 0)
	require.NoError(t, err)

	tampered := segs[0]
	tampered.MoreSegments = false
	tampered.Offset = segs[1].Offset + uint32(len(segs[1].Payload)) + 16

	_, err = r.Process(src, tampered, 0)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
