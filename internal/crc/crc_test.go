package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Standard check values: CRC of ASCII "123456789" per the respective
// catalogue entry (CRC RevEng catalogue).
var checkVector = []byte("123456789")

func TestCRC8CheckValue(t *testing.T) {
	assert.EqualValues(t, 0x4B, ComputeCRC8(checkVector))
}

func TestCRC16CheckValue(t *testing.T) {
	assert.EqualValues(t, 0x906E, ComputeCRC16(checkVector))
}

func TestCRC32CheckValue(t *testing.T) {
	assert.EqualValues(t, 0xCBF43926, ComputeCRC32(checkVector))
}

func TestCRC8Incremental(t *testing.T) {
	whole := ComputeCRC8(checkVector)
	c := NewCRC8()
	for _, b := range checkVector {
		c.Single(b)
	}
	assert.EqualValues(t, whole, c.Sum())
}

func TestCRC16Incremental(t *testing.T) {
	whole := ComputeCRC16(checkVector)
	c := NewCRC16()
	c.Write(checkVector[:4])
	c.Write(checkVector[4:])
	assert.EqualValues(t, whole, c.Sum())
}

func TestCRC32Incremental(t *testing.T) {
	whole := ComputeCRC32(checkVector)
	c := NewCRC32()
	for i := range checkVector {
		c.Single(checkVector[i])
	}
	assert.EqualValues(t, whole, c.Sum())
}
