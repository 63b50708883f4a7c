package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeStatus(t *testing.T) {
	buffer := make([]byte, 64)
	buffer[9] = 0x10  // requested length lo
	buffer[10] = 0x00 // requested length hi
	buffer[11] = 0x0C // sent length lo
	buffer[13] = 3    // data buffer counter
	buffer[14] = 0x75 // speed divider
	buffer[15] = 20   // timeout
	buffer[16] = 0xA0 // current address lo
	buffer[25] = 1    // read pending

	status := decodeStatus(buffer)

	assert.Equal(t, uint16(0x10), status.LastWriteRequestedSize)
	assert.Equal(t, uint16(0x0C), status.LastWriteSentSize)
	assert.Equal(t, 3, status.I2CDataBufferCounter)
	assert.Equal(t, 0x75, status.I2CSpeedDivider)
	assert.Equal(t, 20, status.I2CTimeout)
	assert.Equal(t, "a000", status.CurrentAddress)
	assert.Equal(t, 1, status.ReadPending)
}
