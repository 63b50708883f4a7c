// Package at24 provides a driver for 24-series I2C serial EEPROMs
// (24C02..24C256 and compatibles). It handles page-bounded writes and
// waits out the device's internal write cycle by acknowledgment
// polling: after a page write the device NACKs its control byte until
// the cycle completes, so the driver keeps probing until the device
// answers or the budget elapses.
//
// The driver runs on any i2cm.I2CBus. On the fabric engine bus with
// ack polling enabled the controller performs the probing in hardware
// and the first readiness probe succeeds immediately.
package at24

import (
	"context"
	"fmt"
	"time"

	"github.com/mklimuk/i2cm"
)

const DefaultAddress = 0x50

// Config describes one EEPROM variant.
type Config struct {
	// Size is the capacity in bytes.
	Size uint32 `yaml:"size"`
	// PageSize is the write page size in bytes; writes must not cross
	// page boundaries.
	PageSize uint32 `yaml:"page_size"`
	// AddrBytes is the width of the memory address header (1 or 2).
	// One-byte devices larger than 256 bytes carry the bank bits in
	// the device address.
	AddrBytes int `yaml:"addr_bytes"`
	// WriteCycle is the worst-case internal write cycle time, used to
	// size the readiness-polling budget.
	WriteCycle time.Duration `yaml:"write_cycle"`
}

var (
	Conf24C02  = Config{Size: 256, PageSize: 8, AddrBytes: 1, WriteCycle: 5 * time.Millisecond}
	Conf24C08  = Config{Size: 1024, PageSize: 16, AddrBytes: 1, WriteCycle: 5 * time.Millisecond}
	Conf24C32  = Config{Size: 4096, PageSize: 32, AddrBytes: 2, WriteCycle: 5 * time.Millisecond}
	Conf24C256 = Config{Size: 32768, PageSize: 64, AddrBytes: 2, WriteCycle: 5 * time.Millisecond}
)

type EEPROM struct {
	bus  i2cm.I2CBus
	addr byte
	conf Config
}

func New(bus i2cm.I2CBus, addr byte, conf Config) (*EEPROM, error) {
	if conf.Size == 0 || conf.PageSize == 0 {
		return nil, fmt.Errorf("invalid configuration: size and page size must be non-zero")
	}
	if conf.PageSize&(conf.PageSize-1) != 0 {
		return nil, fmt.Errorf("invalid configuration: page size %d is not a power of two", conf.PageSize)
	}
	if conf.AddrBytes != 1 && conf.AddrBytes != 2 {
		return nil, fmt.Errorf("invalid configuration: address width %d not supported", conf.AddrBytes)
	}
	return &EEPROM{bus: bus, addr: addr, conf: conf}, nil
}

// Read fills buf starting at the given memory offset using a combined
// write-read transaction (address header, repeated START, data).
func (e *EEPROM) Read(ctx context.Context, offset uint32, buf []byte) error {
	if offset+uint32(len(buf)) > e.conf.Size {
		return fmt.Errorf("read of %d bytes at %#x exceeds capacity %d", len(buf), offset, e.conf.Size)
	}
	if len(buf) == 0 {
		return nil
	}
	dev, header := e.locate(offset)
	if err := e.bus.WriteReadAddr(ctx, dev, header, buf); err != nil {
		return fmt.Errorf("eeprom read at %#x failed: %w", offset, err)
	}
	return nil
}

// Write stores data starting at the given memory offset, splitting it
// into page-bounded chunks and waiting for each internal write cycle.
func (e *EEPROM) Write(ctx context.Context, offset uint32, data []byte) error {
	if offset+uint32(len(data)) > e.conf.Size {
		return fmt.Errorf("write of %d bytes at %#x exceeds capacity %d", len(data), offset, e.conf.Size)
	}
	for len(data) > 0 {
		room := e.conf.PageSize - offset&(e.conf.PageSize-1)
		chunk := data
		if uint32(len(chunk)) > room {
			chunk = chunk[:room]
		}
		dev, header := e.locate(offset)
		if err := e.bus.WriteToAddr(ctx, dev, append(header, chunk...)); err != nil {
			return fmt.Errorf("eeprom page write at %#x failed: %w", offset, err)
		}
		if err := e.waitReady(ctx, dev); err != nil {
			return fmt.Errorf("eeprom not ready after write at %#x: %w", offset, err)
		}
		offset += uint32(len(chunk))
		data = data[len(chunk):]
	}
	return nil
}

// locate derives the device address and memory address header for an
// offset. One-byte-address devices put the high offset bits into the
// device address (one bank per 256 bytes).
func (e *EEPROM) locate(offset uint32) (byte, []byte) {
	if e.conf.AddrBytes == 1 {
		return e.addr + byte(offset>>8), []byte{byte(offset)}
	}
	return e.addr, []byte{byte(offset >> 8), byte(offset)}
}

// waitReady acknowledgment-polls the device after a page write: an
// empty write transfers only the control byte, and the device ACKs it
// once its internal cycle is done.
func (e *EEPROM) waitReady(ctx context.Context, dev byte) error {
	budget := 4 * e.conf.WriteCycle
	if budget == 0 {
		return nil
	}
	deadline := time.Now().Add(budget)
	var err error
	for {
		if err = e.bus.WriteToAddr(ctx, dev, nil); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(e.conf.WriteCycle / 8)
	}
}
