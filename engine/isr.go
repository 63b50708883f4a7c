package engine

import (
	"fmt"

	"github.com/mklimuk/i2cm"
)

// errAddressNACK reports a control byte no target acknowledged.
// Allocated once so the interrupt path only assigns it.
var errAddressNACK = fmt.Errorf("%w: control byte %w", i2cm.ErrNoSuchDevice, i2cm.ErrNACKReceived)

// fsmState is the explicit interrupt state machine state. Each state
// has its own handler; the dispatch keeps invalid state/kind
// combinations unrepresentable.
type fsmState uint8

const (
	// stateIdle: nothing staged; entered on reset and after every
	// completed or aborted transaction.
	stateIdle fsmState = iota
	// stateStartControl: a START (or repeated START) plus control byte
	// has just been transmitted and the target's ACK decides the next
	// step.
	stateStartControl
	// stateTxData: the target acknowledged the write-direction control
	// byte or a previous data byte; data bytes stream out one per event.
	stateTxData
	// stateRxData: the target acknowledged the read-direction control
	// byte; received bytes latch one per event.
	stateRxData
)

// ISR advances the transaction state machine by one step. It must be
// invoked exactly once per controller byte-event interrupt, with
// interrupts for this controller masked for the duration of the call.
// Every path does O(1) register work and returns; outcomes are
// published solely through the atomic status word.
func (e *Engine) ISR() {
	if e.state != stateIdle && Status(e.status.Load()) != StatusInProgress {
		// the waiting caller already declared a timeout and reclaimed
		// the buffer borrows; stop the transaction on the wire instead
		// of advancing it
		e.abort(nil)
		e.ctrl.ClearInterrupt()
		return
	}
	switch e.state {
	case stateIdle:
		// spurious event, nothing staged
	case stateStartControl:
		e.onControlByte()
	case stateTxData:
		e.onTxData()
	case stateRxData:
		e.onRxData()
	}
	e.ctrl.ClearInterrupt()
}

// onControlByte handles the ACK outcome of START + control byte.
func (e *Engine) onControlByte() {
	if !e.ctrl.AckReceived() {
		if e.ackPoll == AckPollingEnabled {
			// target busy (e.g. EEPROM internal write cycle): keep
			// re-issuing the control byte until it answers or the
			// waiting caller gives up
			e.ctrl.SendStart(e.controlByte())
			return
		}
		e.abort(errAddressNACK)
		return
	}
	if e.dir == dirWrite {
		if len(e.tx.buf) == 0 {
			// address probe: the ACK alone is the payload
			e.finish()
			return
		}
		e.state = stateTxData
		e.ctrl.SendByte(e.tx.buf[0])
		e.tx.idx = 1
		return
	}
	e.state = stateRxData
	e.ctrl.RecvByte(len(e.rx.buf) == 1)
}

// onTxData checks the ACK of the previously transmitted byte, then
// either streams the next byte, switches a write-read transaction into
// its read phase, or completes.
func (e *Engine) onTxData() {
	if !e.ctrl.AckReceived() {
		e.abort(i2cm.ErrNACKReceived)
		return
	}
	if e.tx.idx < len(e.tx.buf) {
		e.ctrl.SendByte(e.tx.buf[e.tx.idx])
		e.tx.idx++
		return
	}
	if e.kind == KindWriteRead && e.dir == dirWrite {
		// repeated START, no STOP between the phases
		e.dir = dirRead
		e.state = stateStartControl
		e.ctrl.SendStart(e.controlByte())
		return
	}
	e.finish()
}

// onRxData latches the received byte and requests the next one,
// NACKing the final byte to end the read.
func (e *Engine) onRxData() {
	e.rx.buf[e.rx.idx] = e.ctrl.LastByte()
	e.rx.idx++
	if e.rx.idx < len(e.rx.buf) {
		e.ctrl.RecvByte(e.rx.idx == len(e.rx.buf)-1)
		return
	}
	e.finish()
}

// finish completes the transaction, applying the requested bus-release
// policy before publishing StatusSuccess.
func (e *Engine) finish() {
	if e.busOpt == ReleaseBus {
		e.ctrl.SendStop()
		e.busHeld = false
	} else {
		e.busHeld = true
	}
	e.teardown()
	e.status.CompareAndSwap(int32(StatusInProgress), int32(StatusSuccess))
}

// abort ends the transaction, always releasing the bus, and publishes
// StatusFailed with the given cause. A nil cause leaves the published
// outcome alone, which is the case when the caller timed out first.
func (e *Engine) abort(cause error) {
	e.ctrl.SendStop()
	e.busHeld = false
	e.failure = cause
	e.teardown()
	e.status.CompareAndSwap(int32(StatusInProgress), int32(StatusFailed))
}

// teardown drops the buffer borrows and returns the machine to idle.
// The CompareAndSwap in the callers keeps a caller-declared timeout
// from being overwritten by a late completion.
func (e *Engine) teardown() {
	e.state = stateIdle
	e.kind = kindNone
	e.tx = view{}
	e.rx = view{}
	if e.irq != nil {
		e.irq.DisableIRQ()
	}
}
