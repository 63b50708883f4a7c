// Package mmio implements the engine's register-level controller
// collaborator for a memory-mapped fabric I2C core, mapped from
// /dev/uio* or /dev/mem. The core exposes five 32-bit registers:
// prescale low/high, control, data, and a shared command/status
// register (command on write, status on read).
package mmio

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mklimuk/i2cm/engine"
)

// BlockSize is the span of the register window in bytes.
const BlockSize = 0x20

const (
	regPrescaleLo = 0x00
	regPrescaleHi = 0x04
	regControl    = 0x08
	regData       = 0x0C
	regCommand    = 0x10
	regStatus     = 0x10
)

const (
	ctrlCoreEnable = 1 << 7
	ctrlIRQEnable  = 1 << 6
)

const (
	cmdStart    = 0x80
	cmdStop     = 0x40
	cmdRead     = 0x20
	cmdWrite    = 0x10
	cmdNACK     = 0x08
	cmdClearIRQ = 0x01
)

const statusNACK = 0x80

var _ engine.Controller = &RegisterBlock{}

// RegisterBlock drives the core through its mapped register window.
type RegisterBlock struct {
	mem    []byte
	mapped []byte
	file   *os.File
}

// Open maps the register block from the given device at offset. For
// UIO devices the offset selects the map index times the page size; for
// /dev/mem it is the physical base address of the core.
func Open(path string, offset int64) (*RegisterBlock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	page := int64(os.Getpagesize())
	aligned := offset &^ (page - 1)
	shift := int(offset - aligned)
	mapped, err := unix.Mmap(int(f.Fd()), aligned, shift+BlockSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not map %s at %#x: %w", path, offset, err)
	}
	return &RegisterBlock{
		mem:    mapped[shift : shift+BlockSize],
		mapped: mapped,
		file:   f,
	}, nil
}

// newBlock binds the register view to an existing window. The window
// must span at least BlockSize bytes and be 32-bit aligned.
func newBlock(mem []byte) *RegisterBlock {
	return &RegisterBlock{mem: mem}
}

func (r *RegisterBlock) Close() error {
	if r.mapped != nil {
		if err := unix.Munmap(r.mapped); err != nil {
			return fmt.Errorf("could not unmap register block: %w", err)
		}
		r.mapped = nil
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Register cells are accessed through sync/atomic so loads and stores
// are single uncached instructions in program order.
func (r *RegisterBlock) cell(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r *RegisterBlock) store(off int, v uint32) {
	atomic.StoreUint32(r.cell(off), v)
}

func (r *RegisterBlock) load(off int) uint32 {
	return atomic.LoadUint32(r.cell(off))
}

func (r *RegisterBlock) SetPrescale(div uint16) {
	r.store(regPrescaleLo, uint32(div&0xFF))
	r.store(regPrescaleHi, uint32(div>>8))
}

func (r *RegisterBlock) Enable(irq bool) {
	v := uint32(ctrlCoreEnable)
	if irq {
		v |= ctrlIRQEnable
	}
	r.store(regControl, v)
}

func (r *RegisterBlock) SendStart(control byte) {
	r.store(regData, uint32(control))
	r.store(regCommand, cmdStart|cmdWrite)
}

func (r *RegisterBlock) SendByte(b byte) {
	r.store(regData, uint32(b))
	r.store(regCommand, cmdWrite)
}

func (r *RegisterBlock) RecvByte(last bool) {
	cmd := uint32(cmdRead)
	if last {
		cmd |= cmdNACK
	}
	r.store(regCommand, cmd)
}

func (r *RegisterBlock) LastByte() byte {
	return byte(r.load(regData))
}

func (r *RegisterBlock) SendStop() {
	r.store(regCommand, cmdStop)
}

func (r *RegisterBlock) AckReceived() bool {
	return r.load(regStatus)&statusNACK == 0
}

func (r *RegisterBlock) ClearInterrupt() {
	r.store(regCommand, cmdClearIRQ)
}

func (r *RegisterBlock) Status() uint8 {
	return uint8(r.load(regStatus))
}
