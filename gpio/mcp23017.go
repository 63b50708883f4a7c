// Package gpio drives I2C port expanders over an i2cm bus.
package gpio

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/i2cm"
)

const DefaultMCP23017Address = 0x21

// MCP23017 registers, IOCON.BANK = 0 layout (A/B interleaved).
const (
	regIODIRA = 0x00
	regIODIRB = 0x01
	regGPPUA  = 0x0C
	regGPPUB  = 0x0D
	regGPIOA  = 0x12
	regGPIOB  = 0x13
	regOLATA  = 0x14
	regOLATB  = 0x15
)

// Port selects one of the expander's two 8-bit ports.
type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

type portRegs struct {
	iodir byte
	gppu  byte
	gpio  byte
	olat  byte
}

var regsByPort = map[Port]portRegs{
	PortA: {iodir: regIODIRA, gppu: regGPPUA, gpio: regGPIOA, olat: regOLATA},
	PortB: {iodir: regIODIRB, gppu: regGPPUB, gpio: regGPIOB, olat: regOLATB},
}

// MCP23017 is a 16-bit I2C port expander. Register reads use combined
// write-read transactions so the register pointer and the data transfer
// share one bus transaction.
type MCP23017 struct {
	mx   sync.Mutex
	bus  i2cm.I2CBus
	addr byte
}

func NewMCP23017(bus i2cm.I2CBus, addr byte) *MCP23017 {
	return &MCP23017{bus: bus, addr: addr}
}

// SetInput configures the masked pins of the port as inputs with
// pull-ups, leaving the rest untouched.
func (d *MCP23017) SetInput(ctx context.Context, port Port, mask byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	regs := regsByPort[port]
	if err := d.updateReg(ctx, regs.iodir, mask, mask); err != nil {
		return fmt.Errorf("could not configure port %s direction: %w", port, err)
	}
	if err := d.updateReg(ctx, regs.gppu, mask, mask); err != nil {
		return fmt.Errorf("could not configure port %s pull-ups: %w", port, err)
	}
	return nil
}

// SetOutput configures the masked pins of the port as outputs.
func (d *MCP23017) SetOutput(ctx context.Context, port Port, mask byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	regs := regsByPort[port]
	if err := d.updateReg(ctx, regs.iodir, mask, 0); err != nil {
		return fmt.Errorf("could not configure port %s direction: %w", port, err)
	}
	return nil
}

// ReadPort returns the input state of the port.
func (d *MCP23017) ReadPort(ctx context.Context, port Port) (byte, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	v, err := d.readReg(ctx, regsByPort[port].gpio)
	if err != nil {
		return 0, fmt.Errorf("could not read port %s: %w", port, err)
	}
	return v, nil
}

// WritePort drives the masked output pins of the port.
func (d *MCP23017) WritePort(ctx context.Context, port Port, mask, value byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.updateReg(ctx, regsByPort[port].olat, mask, value); err != nil {
		return fmt.Errorf("could not write port %s: %w", port, err)
	}
	return nil
}

func (d *MCP23017) readReg(ctx context.Context, reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := d.bus.WriteReadAddr(ctx, d.addr, []byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// updateReg read-modify-writes the masked bits of a register.
func (d *MCP23017) updateReg(ctx context.Context, reg byte, mask, value byte) error {
	current, err := d.readReg(ctx, reg)
	if err != nil {
		return err
	}
	next := current&^mask | value&mask
	if next == current {
		return nil
	}
	return d.bus.WriteToAddr(ctx, d.addr, []byte{reg, next})
}
