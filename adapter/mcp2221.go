// Package adapter implements i2cm transports backed by USB bridge
// chips, for workstations without a fabric I2C core.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/i2cm"
	"github.com/mklimuk/i2cm/cmd/i2cm/console"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// MCP2221 HID command codes.
const (
	cmdStatusSetParams = 0x10
	cmdGetReadData     = 0x40
	cmdWriteData       = 0x90
	cmdReadData        = 0x91
	cmdReadRepStart    = 0x93
	cmdWriteNoStop     = 0x94
)

var ErrCommandFailed = errors.New("command failed")

var _ i2cm.I2CBus = &MCP2221{}

// MCP2221 drives I2C transactions through the Microchip MCP2221 USB
// bridge. The chip runs its own transaction engine, so byte-level
// pacing happens on the device; this transport maps the i2cm bus
// surface onto the chip's 64-byte HID command frames. When the engine
// reports busy the transport retries until its budget elapses, which
// covers target devices with internal write cycles the same way ack
// polling does on the fabric controller.
type MCP2221 struct {
	mx           sync.Mutex
	dev          *hid.Device
	request      []byte
	response     []byte
	responseWait time.Duration
	busyBudget   time.Duration
}

// MCP2221Status is the decoded engine state of the bridge.
type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

// Opt configures an MCP2221 transport.
type Opt func(*MCP2221)

// WithBusyBudget sets how long busy responses are retried before the
// transaction is reported as failed.
func WithBusyBudget(d time.Duration) Opt {
	return func(m *MCP2221) { m.busyBudget = d }
}

func NewMCP2221(opts ...Opt) *MCP2221 {
	m := &MCP2221{
		request:      make([]byte, 64),
		response:     make([]byte, 64),
		responseWait: 50 * time.Millisecond,
		busyBudget:   250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.transfer(ctx, cmdWriteData, address, buffer); err != nil {
		return fmt.Errorf("write to %#02x failed: %w", address, err)
	}
	return nil
}

func (m *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.readInto(ctx, cmdReadData, address, buffer); err != nil {
		return fmt.Errorf("read from %#02x failed: %w", address, err)
	}
	return nil
}

// WriteReadAddr issues the write phase without a STOP, then a
// repeated-START read, matching the combined transaction the fabric
// engine produces.
func (m *MCP2221) WriteReadAddr(ctx context.Context, address byte, w, r []byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.transfer(ctx, cmdWriteNoStop, address, w); err != nil {
		return fmt.Errorf("write phase on %#02x failed: %w", address, err)
	}
	if err := m.readInto(ctx, cmdReadRepStart, address, r); err != nil {
		return fmt.Errorf("read phase on %#02x failed: %w", address, err)
	}
	return nil
}

// Release cancels the current transfer and frees the bus.
func (m *MCP2221) Release(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.resetBuffers()
	m.request[0] = cmdStatusSetParams
	m.request[2] = 0x10
	if err := m.send(ctx); err != nil {
		return fmt.Errorf("bus release failed: %w", err)
	}
	return nil
}

// SetSpeedDivider programs the bridge's I2C clock divider, the
// transport's counterpart of the fabric engine prescaler.
func (m *MCP2221) SetSpeedDivider(ctx context.Context, divider byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.resetBuffers()
	m.request[0] = cmdStatusSetParams
	m.request[3] = 0x20
	m.request[4] = divider
	if err := m.send(ctx); err != nil {
		return fmt.Errorf("speed divider update failed: %w", err)
	}
	if m.response[3] != 0x20 {
		return fmt.Errorf("speed divider not accepted: %w", ErrCommandFailed)
	}
	return nil
}

// Status queries and decodes the bridge engine state.
func (m *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.resetBuffers()
	m.request[0] = cmdStatusSetParams
	if err := m.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return decodeStatus(m.response), nil
}

// transfer stages an I2C write command, retrying while the bridge
// engine reports busy.
func (m *MCP2221) transfer(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	deadline := time.Now().Add(m.busyBudget)
	for {
		m.resetBuffers()
		m.request[0] = cmd
		binary.LittleEndian.PutUint16(m.request[1:3], uint16(len(buffer)))
		m.request[3] = address << 1
		copy(m.request[4:], buffer)
		if err := m.send(ctx); err != nil {
			return err
		}
		if m.response[1] != 0x01 {
			return nil
		}
		if time.Now().After(deadline) {
			return i2cm.ErrBusBusy
		}
		slog.Debug("bridge engine busy, retrying", "address", address)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.responseWait):
		}
	}
}

// readInto stages an I2C read and fetches the received bytes.
func (m *MCP2221) readInto(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	deadline := time.Now().Add(m.busyBudget)
	for {
		m.resetBuffers()
		m.request[0] = cmd
		binary.LittleEndian.PutUint16(m.request[1:3], uint16(len(buffer)))
		m.request[3] = address<<1 + 1
		if err := m.send(ctx); err != nil {
			return err
		}
		if m.response[1] != 0x01 {
			break
		}
		if time.Now().After(deadline) {
			return i2cm.ErrBusBusy
		}
		slog.Debug("bridge engine busy, retrying", "address", address)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.responseWait):
		}
	}
	m.resetBuffers()
	m.request[0] = cmdGetReadData
	if err := m.send(ctx); err != nil {
		return fmt.Errorf("could not fetch read data: %w", err)
	}
	if m.response[1] == 0x41 {
		return fmt.Errorf("engine could not supply read data: %w", i2cm.ErrNACKReceived)
	}
	if m.response[3] == 127 || int(m.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), m.response[3])
	}
	copy(buffer, m.response[4:])
	return nil
}

func decodeStatus(buffer []byte) *MCP2221Status {
	// frame layout per datasheet: [9:11] requested transfer length,
	// [11:13] transferred length, 13 data buffer counter, 14 speed
	// divider, 15 timeout, [16:18] current address, 25 pending reads
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (m *MCP2221) open() error {
	if m.dev != nil {
		return nil
	}
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return fmt.Errorf("MCP2221 device not found")
	}
	if len(devs) > 1 {
		return fmt.Errorf("ambiguous device identification (%d bridges attached)", len(devs))
	}
	dev, err := devs[0].Open()
	if err != nil {
		return fmt.Errorf("error opening device: %w", err)
	}
	m.dev = dev
	return nil
}

func (m *MCP2221) Close() error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.dev == nil {
		return nil
	}
	err := m.dev.Close()
	m.dev = nil
	return err
}

func (m *MCP2221) send(ctx context.Context) error {
	if err := m.open(); err != nil {
		return err
	}
	verbose := console.IsVerbose(ctx)
	if verbose {
		console.Printf("sending frame to bridge:\n%s", hex.Dump(m.request))
	}
	n, err := m.dev.Write(m.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short write: %d", n)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.responseWait):
	}
	n, err = m.dev.Read(m.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		console.Printf("frame received from bridge:\n%s", hex.Dump(m.response))
	}
	return nil
}

func (m *MCP2221) resetBuffers() {
	for i := range m.request {
		m.request[i] = 0
	}
	for i := range m.response {
		m.response[i] = 0
	}
}
