// Package engine implements an interrupt-driven I2C master on top of a
// memory-mapped controller. The engine advances byte-by-byte through
// write, read and write-read transactions: the foreground stages a
// transaction and issues the START condition, after which every bus
// byte-event interrupt runs the state machine in ISR until the
// transaction completes, fails or holds the bus.
//
// Completion is observed by polling MasterStatus or through the
// WaitComplete helper; the interrupt path itself never blocks, never
// allocates and never logs.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mklimuk/i2cm"
)

// TransactionKind identifies the staged master operation.
type TransactionKind uint8

const (
	kindNone TransactionKind = iota
	KindWrite
	KindRead
	KindWriteRead
)

// BusOption selects the bus-release policy at transaction end.
type BusOption uint8

const (
	// ReleaseBus issues a STOP condition when the transaction completes.
	ReleaseBus BusOption = iota
	// HoldBus skips the STOP so the next transaction starts with a
	// repeated START, keeping bus ownership between transactions.
	HoldBus
)

// AckPolling selects the retry policy for a NACKed control byte.
// Devices with an internal write cycle, such as serial EEPROMs, signal
// readiness only by finally acknowledging the control byte; with
// polling enabled the engine keeps re-issuing START plus control byte
// until the device responds or the caller's wait deadline expires.
type AckPolling uint8

const (
	AckPollingDisabled AckPolling = iota
	AckPollingEnabled
)

type direction uint8

const (
	dirWrite direction = iota
	dirRead
)

const addrMax = 0x7F

// view is a borrowed window into a caller-owned buffer. It is valid
// only while the transaction that staged it is in flight; the caller
// must not touch the buffer until status leaves StatusInProgress.
type view struct {
	buf []byte
	idx int
}

// Engine drives one I2C master controller. Allocate one per hardware
// block with New; all mutation of the transaction fields belongs to the
// engine. The foreground and the interrupt handler share only the
// atomic status word, so no locking is needed as long as the caller
// honors the one-transaction-at-a-time contract.
type Engine struct {
	ctrl Controller
	irq  IRQGate

	pollInterval time.Duration
	timeout      time.Duration

	target  byte
	kind    TransactionKind
	busOpt  BusOption
	ackPoll AckPolling
	state   fsmState
	tx      view
	rx      view
	dir     direction

	status atomic.Int32
	// failure refines StatusFailed; written by the interrupt handler
	// before the status transition, read by the waiter after it.
	failure error

	busHeld bool

	// UserData is an opaque caller payload, never interpreted by the
	// engine.
	UserData any
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithIRQGate attaches the platform interrupt enable/disable hooks.
func WithIRQGate(g IRQGate) Option {
	return func(e *Engine) { e.irq = g }
}

// WithPollInterval sets the WaitComplete polling period.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithTimeout sets the per-transaction completion budget consumed by
// WaitComplete. Zero disables the deadline; the context still applies.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New binds an engine to a controller and resets all transaction state.
// It must be called exactly once per hardware block before any other
// operation.
func New(ctrl Controller, opts ...Option) *Engine {
	e := &Engine{
		ctrl:         ctrl,
		pollInterval: 100 * time.Microsecond,
		timeout:      3 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state = stateIdle
	e.status.Store(int32(StatusSuccess))
	return e
}

// Configure programs the serial clock divider and enables the core and
// its interrupt source. The resulting bus clock is
// f_sys / (5 * (prescale + 1)).
func (e *Engine) Configure(prescale uint16) {
	e.ctrl.SetPrescale(prescale)
	e.ctrl.Enable(true)
}

// Write stages a master write of buf to target and issues the START
// condition plus control byte. It returns immediately; completion is
// observed through MasterStatus or WaitComplete. A zero-length buf
// probes the address: only the control byte is transferred and the ACK
// decides the outcome.
func (e *Engine) Write(target byte, buf []byte, opt BusOption, ack AckPolling) error {
	return e.initiate(KindWrite, target, buf, nil, opt, ack)
}

// Read stages a master read of len(buf) bytes from target. The master
// acknowledges every byte except the last, which it NACKs to end the
// transfer. buf must hold at least one byte.
func (e *Engine) Read(target byte, buf []byte, opt BusOption, ack AckPolling) error {
	if len(buf) == 0 {
		return fmt.Errorf("read requires a non-empty buffer")
	}
	return e.initiate(KindRead, target, nil, buf, opt, ack)
}

// WriteRead stages a write phase followed by a read phase joined by a
// repeated START with no intervening STOP. It is typically used to set
// a register or memory offset before reading from it.
func (e *Engine) WriteRead(target byte, wbuf, rbuf []byte, opt BusOption, ack AckPolling) error {
	if len(wbuf) == 0 || len(rbuf) == 0 {
		return fmt.Errorf("write-read requires non-empty write and read buffers")
	}
	return e.initiate(KindWriteRead, target, wbuf, rbuf, opt, ack)
}

func (e *Engine) initiate(kind TransactionKind, target byte, wbuf, rbuf []byte, opt BusOption, ack AckPolling) error {
	if target > addrMax {
		return fmt.Errorf("target address %#x exceeds 7 bits", target)
	}
	if Status(e.status.Load()) == StatusInProgress {
		return i2cm.ErrBusBusy
	}
	e.target = target
	e.kind = kind
	e.busOpt = opt
	e.ackPoll = ack
	e.tx = view{buf: wbuf}
	e.rx = view{buf: rbuf}
	if kind == KindRead {
		e.dir = dirRead
	} else {
		e.dir = dirWrite
	}
	e.state = stateStartControl
	e.failure = nil
	e.status.Store(int32(StatusInProgress))
	if e.irq != nil {
		e.irq.EnableIRQ()
	}
	e.ctrl.SendStart(e.controlByte())
	return nil
}

// Start re-issues the START condition and control byte for the staged
// transaction. It is a raw primitive; the initiation functions call it
// implicitly and most callers never need it.
func (e *Engine) Start() error {
	if e.kind == kindNone {
		return fmt.Errorf("no transaction staged")
	}
	e.ctrl.SendStart(e.controlByte())
	return nil
}

// Stop issues a STOP condition unconditionally, releasing a held bus.
func (e *Engine) Stop() {
	e.ctrl.SendStop()
	e.busHeld = false
}

// MasterStatus returns the high-level transaction outcome.
func (e *Engine) MasterStatus() Status {
	return Status(e.status.Load())
}

// RawStatus returns the live controller status register, for
// diagnostics.
func (e *Engine) RawStatus() uint8 {
	return e.ctrl.Status()
}

// BusHeld reports whether the engine kept bus ownership after the last
// transaction (HoldBus completion without a STOP).
func (e *Engine) BusHeld() bool {
	return e.busHeld
}

// WaitComplete polls the transaction status until it leaves
// StatusInProgress, the configured timeout elapses, or ctx ends. On
// timeout the status is moved to StatusTimedOut unless the interrupt
// handler completed the transaction in the meantime. The poll interval
// and timeout are caller policy, set through options; the interrupt
// handler itself never aborts on time.
func (e *Engine) WaitComplete(ctx context.Context) error {
	var deadline time.Time
	if e.timeout > 0 {
		deadline = time.Now().Add(e.timeout)
	}
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		switch s := e.MasterStatus(); s {
		case StatusSuccess:
			return nil
		case StatusFailed:
			if e.failure != nil {
				return e.failure
			}
			return s.Err()
		case StatusTimedOut:
			return s.Err()
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			if e.status.CompareAndSwap(int32(StatusInProgress), int32(StatusTimedOut)) {
				return i2cm.ErrTimeout
			}
			// the handler won the race; report its outcome
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Serve runs the interrupt service loop: one ISR invocation per event
// delivered by src. It returns when src fails or ctx ends.
func (e *Engine) Serve(ctx context.Context, src EventSource) error {
	for {
		if err := src.WaitEvent(ctx); err != nil {
			return err
		}
		e.ISR()
	}
}

func (e *Engine) controlByte() byte {
	cb := e.target << 1
	if e.dir == dirRead {
		cb |= 0x01
	}
	return cb
}
