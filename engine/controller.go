package engine

import "context"

// Controller is the register-level view of a single I2C master block.
// Implementations translate these calls into accesses on the controller's
// memory-mapped prescale, control, data and command/status registers.
// Every call must complete in O(1) without blocking, since the engine
// invokes them from interrupt context.
type Controller interface {
	// SetPrescale programs the serial clock divider. The resulting bus
	// clock is f_sys / (5 * (prescale + 1)).
	SetPrescale(div uint16)
	// Enable turns the core on and, when irq is set, unmasks its
	// interrupt output.
	Enable(irq bool)
	// SendStart transmits a START condition (a repeated START when the
	// bus is already owned) followed by the control byte.
	SendStart(control byte)
	// SendByte transmits one data byte.
	SendByte(b byte)
	// RecvByte clocks in one data byte from the target. The master
	// acknowledges it unless last is set, in which case it responds
	// with a NACK to end the read.
	RecvByte(last bool)
	// LastByte returns the contents of the receive data register.
	LastByte() byte
	// SendStop transmits a STOP condition, releasing the bus.
	SendStop()
	// AckReceived reports whether the target acknowledged the most
	// recently transferred byte.
	AckReceived() bool
	// ClearInterrupt acknowledges the pending byte-event interrupt.
	ClearInterrupt()
	// Status returns the raw status register value.
	Status() uint8
}

// EventSource delivers byte-event interrupts to the engine. WaitEvent
// blocks until the controller raises an event or the context ends.
type EventSource interface {
	WaitEvent(ctx context.Context) error
}

// IRQGate connects the engine to the platform interrupt controller.
// Implementations gate delivery of the controller's interrupt line to
// the service loop; both methods must be callable from interrupt
// context.
type IRQGate interface {
	EnableIRQ()
	DisableIRQ()
}
