package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStringEndpointEqual(t *testing.T) {
	a := StringEndpoint("10.0.0.1:30509")
	b := StringEndpoint("10.0.0.1:30509")
	c := StringEndpoint("10.0.0.2:30509")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, "10.0.0.1:30509", a.String())
}

func TestStringEndpointEqualRejectsOtherImplementation(t *testing.T) {
	a := StringEndpoint("10.0.0.1:30509")
	var other Endpoint = fakeEndpoint{}
	assert.False(t, a.Equal(other))
}

type fakeEndpoint struct{}

func (fakeEndpoint) String() string            { return "10.0.0.1:30509" }
func (fakeEndpoint) Equal(other Endpoint) bool { _, ok := other.(fakeEndpoint); return ok }

func TestSystemClockIsMonotonicNonDecreasing(t *testing.T) {
	c := NewSystemClock()
	first := c.NowMs()
	time.Sleep(2 * time.Millisecond)
	second := c.NowMs()
	assert.GreaterOrEqual(t, second, first)
}
