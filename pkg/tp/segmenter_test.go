package tp

import (
	"testing"

	"github.com/kschamplin/someip/pkg/someip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(payloadLen int) *someip.Message {
	m := someip.NewMessage(0x1111, 0x2222, 0x3333, 0x4444, someip.MessageTypeNotification)
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	m.SetPayload(payload)
	return m
}

func TestSmallMessageIsSingleSegmentNoTP(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(4)

	assert.False(t, s.NeedsSegmentation(msg))
	segs, err := s.Segment(msg)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.False(t, segs[0].Type.HasTP())
	assert.False(t, segs[0].MoreSegments)
}

func TestMidSizeSingleSegmentGetsTPFlag(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(64)

	segs, err := s.Segment(msg)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Type.HasTP())
}

func TestThreeSegmentSplit(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(3000)

	require.True(t, s.NeedsSegmentation(msg))
	segs, err := s.Segment(msg)
	require.NoError(t, err)
	require.Len(t, segs, 3)

	assert.Equal(t, uint32(0), segs[0].Offset)
	assert.Equal(t, 1024, len(segs[0].Payload))
	assert.True(t, segs[0].MoreSegments)
	assert.True(t, segs[0].Type.HasTP())

	assert.Equal(t, uint32(1024), segs[1].Offset)
	assert.Equal(t, 1024, len(segs[1].Payload))
	assert.True(t, segs[1].MoreSegments)

	assert.Equal(t, uint32(2048), segs[2].Offset)
	assert.Equal(t, 952, len(segs[2].Payload))
	assert.False(t, segs[2].MoreSegments)

	for _, seg := range segs[:len(segs)-1] {
		assert.Zero(t, len(seg.Payload)%16)
		assert.Zero(t, seg.Offset%16)
	}
}

func TestSegmentRejectsOversizedMessage(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(someip.MaxMessageSize)

	_, err := s.Segment(msg)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestSegmenterClampsMaxSegmentSizeToCeiling(t *testing.T) {
	s := NewSegmenter(100000)
	assert.LessOrEqual(t, s.MaxSegmentSize, uint32(MaxSegmentPayload))
}

func TestSegmentHeaderRoundTrip(t *testing.T) {
	s := NewSegmenter(1024)
	msg := newMessage(3000)
	segs, err := s.Segment(msg)
	require.NoError(t, err)

	for _, seg := range segs {
		buf, err := seg.serialize()
		require.NoError(t, err)
		decoded, err := DeserializeSegment(buf)
		require.NoError(t, err)
		assert.Equal(t, seg.Offset, decoded.Offset)
		assert.Equal(t, seg.MoreSegments, decoded.MoreSegments)
		assert.Equal(t, seg.Payload, decoded.Payload)
	}
}
