// Package hostbus adapts a kernel-managed I2C bus (i2cdev and friends
// through periph.io) to the i2cm bus surface, so device drivers can be
// exercised on a Linux host against the same interface the fabric
// engine provides.
package hostbus

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/i2cm"
)

var _ i2cm.I2CBus = &GenericBus{}

type GenericBus struct {
	bus i2c.BusCloser
}

// NewGenericBus opens the named host bus, e.g. "/dev/i2c-1" or "1".
func NewGenericBus(dev string) (*GenericBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &GenericBus{bus: bus}, nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.bus.Tx(uint16(address), nil, buffer); err != nil {
		return fmt.Errorf("could not read from i2c address %#02x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.bus.Tx(uint16(address), buffer, nil); err != nil {
		return fmt.Errorf("could not write to i2c address %#02x: %w", address, err)
	}
	return nil
}

// WriteReadAddr maps directly onto the kernel's combined transfer,
// which joins the phases with a repeated START.
func (b *GenericBus) WriteReadAddr(ctx context.Context, address byte, w, r []byte) error {
	if err := b.bus.Tx(uint16(address), w, r); err != nil {
		return fmt.Errorf("combined transfer on i2c address %#02x failed: %w", address, err)
	}
	return nil
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}
