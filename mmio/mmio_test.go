package mmio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testBlock() (*RegisterBlock, []byte) {
	mem := make([]byte, BlockSize)
	return newBlock(mem), mem
}

func reg(mem []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(mem[off : off+4])
}

func TestSetPrescaleSplitsBytes(t *testing.T) {
	r, mem := testBlock()
	r.SetPrescale(0x0263)
	assert.Equal(t, uint32(0x63), reg(mem, regPrescaleLo))
	assert.Equal(t, uint32(0x02), reg(mem, regPrescaleHi))
}

func TestEnable(t *testing.T) {
	r, mem := testBlock()
	r.Enable(false)
	assert.Equal(t, uint32(ctrlCoreEnable), reg(mem, regControl))
	r.Enable(true)
	assert.Equal(t, uint32(ctrlCoreEnable|ctrlIRQEnable), reg(mem, regControl))
}

func TestSendStartLoadsControlByte(t *testing.T) {
	r, mem := testBlock()
	r.SendStart(0xA0)
	assert.Equal(t, uint32(0xA0), reg(mem, regData))
	assert.Equal(t, uint32(cmdStart|cmdWrite), reg(mem, regCommand))
}

func TestSendByte(t *testing.T) {
	r, mem := testBlock()
	r.SendByte(0x42)
	assert.Equal(t, uint32(0x42), reg(mem, regData))
	assert.Equal(t, uint32(cmdWrite), reg(mem, regCommand))
}

func TestRecvByte(t *testing.T) {
	tests := []struct {
		name     string
		last     bool
		expected uint32
	}{
		{"ack", false, cmdRead},
		{"nack last", true, cmdRead | cmdNACK},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, mem := testBlock()
			r.RecvByte(test.last)
			assert.Equal(t, test.expected, reg(mem, regCommand))
		})
	}
}

func TestSendStop(t *testing.T) {
	r, mem := testBlock()
	r.SendStop()
	assert.Equal(t, uint32(cmdStop), reg(mem, regCommand))
}

func TestClearInterrupt(t *testing.T) {
	r, mem := testBlock()
	r.ClearInterrupt()
	assert.Equal(t, uint32(cmdClearIRQ), reg(mem, regCommand))
}

func TestAckReceived(t *testing.T) {
	r, mem := testBlock()
	assert.True(t, r.AckReceived())
	binary.LittleEndian.PutUint32(mem[regStatus:], statusNACK)
	assert.False(t, r.AckReceived())
}

func TestLastByteReadsDataRegister(t *testing.T) {
	r, mem := testBlock()
	binary.LittleEndian.PutUint32(mem[regData:], 0x5A)
	assert.Equal(t, byte(0x5A), r.LastByte())
}

func TestStatusReturnsRawRegister(t *testing.T) {
	r, mem := testBlock()
	binary.LittleEndian.PutUint32(mem[regStatus:], 0xC1)
	assert.Equal(t, uint8(0xC1), r.Status())
}
