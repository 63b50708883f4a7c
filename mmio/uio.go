package mmio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/mklimuk/i2cm/engine"
)

var _ engine.EventSource = &UIO{}
var _ engine.IRQGate = &UIO{}

// UIO delivers the core's byte-event interrupts through a Linux
// userspace-IO device. Reading the device blocks until an interrupt
// fires and yields the event counter; writing 1 or 0 unmasks or masks
// the interrupt, which makes the same handle serve as the engine's IRQ
// gate.
type UIO struct {
	file *os.File
}

// OpenUIO opens an interrupt endpoint such as /dev/uio0.
func OpenUIO(path string) (*UIO, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open uio device %s: %w", path, err)
	}
	return &UIO{file: f}, nil
}

// WaitEvent blocks until the next interrupt or until ctx ends. The
// device is polled in short slices so cancellation is honored even
// though the fd has no deadline support.
func (u *UIO) WaitEvent(ctx context.Context) error {
	fd := int32(u.file.Fd())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pfd := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, 100)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll on uio device failed: %w", err)
		}
		if n == 0 {
			continue
		}
		var count [4]byte
		if _, err := u.file.Read(count[:]); err != nil {
			return fmt.Errorf("could not consume uio event: %w", err)
		}
		return nil
	}
}

func (u *UIO) EnableIRQ() {
	u.setIRQ(1)
}

func (u *UIO) DisableIRQ() {
	u.setIRQ(0)
}

func (u *UIO) setIRQ(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	// masking failures surface as missing events; there is nothing
	// actionable in interrupt context
	_, _ = u.file.Write(buf[:])
}

func (u *UIO) Close() error {
	return u.file.Close()
}
