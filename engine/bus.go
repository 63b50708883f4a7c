package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/i2cm"
)

var _ i2cm.I2CBus = &Bus{}

// Bus exposes an Engine as a blocking i2cm.I2CBus so device drivers run
// unchanged on the fabric controller. Each call stages a transaction
// and waits for completion; the engine's Serve loop must be running for
// transactions to make progress.
type Bus struct {
	eng *Engine
	opt BusOption
	ack AckPolling
}

// BusOpt configures a Bus.
type BusOpt func(*Bus)

// WithHoldBus makes the bus keep ownership between transactions; call
// Release to give it up.
func WithHoldBus() BusOpt {
	return func(b *Bus) { b.opt = HoldBus }
}

// WithAckPolling enables control-byte retry on NACK for all
// transactions issued through the bus.
func WithAckPolling() BusOpt {
	return func(b *Bus) { b.ack = AckPollingEnabled }
}

func NewBus(eng *Engine, opts ...BusOpt) *Bus {
	b := &Bus{eng: eng}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.eng.Write(address, buffer, b.opt, b.ack); err != nil {
		return fmt.Errorf("could not start write to %#02x: %w", address, err)
	}
	if err := b.eng.WaitComplete(ctx); err != nil {
		return fmt.Errorf("write to %#02x failed: %w", address, err)
	}
	return nil
}

func (b *Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := b.eng.Read(address, buffer, b.opt, b.ack); err != nil {
		return fmt.Errorf("could not start read from %#02x: %w", address, err)
	}
	if err := b.eng.WaitComplete(ctx); err != nil {
		return fmt.Errorf("read from %#02x failed: %w", address, err)
	}
	return nil
}

func (b *Bus) WriteReadAddr(ctx context.Context, address byte, w, r []byte) error {
	if err := b.eng.WriteRead(address, w, r, b.opt, b.ack); err != nil {
		return fmt.Errorf("could not start write-read on %#02x: %w", address, err)
	}
	if err := b.eng.WaitComplete(ctx); err != nil {
		return fmt.Errorf("write-read on %#02x failed: %w", address, err)
	}
	return nil
}

// Release gives up a held bus by issuing a STOP condition.
func (b *Bus) Release(ctx context.Context) error {
	b.eng.Stop()
	return nil
}

// Probe checks whether a device acknowledges the address. It transfers
// only the control byte.
func (b *Bus) Probe(ctx context.Context, address byte) (bool, error) {
	if err := b.eng.Write(address, nil, ReleaseBus, AckPollingDisabled); err != nil {
		return false, fmt.Errorf("could not probe %#02x: %w", address, err)
	}
	err := b.eng.WaitComplete(ctx)
	if errors.Is(err, i2cm.ErrNoSuchDevice) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe of %#02x failed: %w", address, err)
	}
	return true, nil
}
