package engine

import (
	"context"
	"fmt"
	"sync"
)

// simTarget models the device on the other end of the bus. Each method
// returns what the target puts on the wire in response.
type simTarget interface {
	// control receives START + control byte, returns the ACK.
	control(b byte) bool
	// write receives a data byte, returns the ACK.
	write(b byte) bool
	// read supplies the next data byte; last tells the target the
	// master will NACK it.
	read(last bool) byte
	// stop receives the STOP condition.
	stop()
}

// simController emulates the controller register block against a
// scripted target, recording bus traffic for sequence assertions. Every
// byte transfer raises a pending event, exactly like the hardware
// byte-event interrupt.
type simController struct {
	mu      sync.Mutex
	target  simTarget
	tapeLog []string
	lastAck bool
	data    byte
	pending bool
	events  chan struct{}

	prescale uint16
	enabled  bool
	irqOn    bool
	busOpen  bool
	iacks    int
}

func newSimController(t simTarget) *simController {
	return &simController{target: t, events: make(chan struct{}, 1)}
}

func ackStr(ack bool) string {
	if ack {
		return "ACK"
	}
	return "NACK"
}

func (c *simController) raise() {
	c.pending = true
	select {
	case c.events <- struct{}{}:
	default:
	}
}

func (c *simController) SetPrescale(div uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prescale = div
}

func (c *simController) Enable(irq bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	c.irqOn = irq
}

func (c *simController) SendStart(control byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kind := "START"
	if c.busOpen {
		kind = "RESTART"
	}
	c.busOpen = true
	c.lastAck = c.target.control(control)
	c.tapeLog = append(c.tapeLog, fmt.Sprintf("%s %02X %s", kind, control, ackStr(c.lastAck)))
	c.raise()
}

func (c *simController) SendByte(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAck = c.target.write(b)
	c.tapeLog = append(c.tapeLog, fmt.Sprintf("WRITE %02X %s", b, ackStr(c.lastAck)))
	c.raise()
}

func (c *simController) RecvByte(last bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = c.target.read(last)
	c.lastAck = true
	c.tapeLog = append(c.tapeLog, fmt.Sprintf("READ %02X %s", c.data, ackStr(!last)))
	c.raise()
}

func (c *simController) LastByte() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *simController) SendStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busOpen = false
	c.target.stop()
	c.tapeLog = append(c.tapeLog, "STOP")
}

func (c *simController) AckReceived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAck
}

func (c *simController) ClearInterrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iacks++
}

func (c *simController) Status() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s uint8
	if !c.lastAck {
		s |= 0x80
	}
	if c.busOpen {
		s |= 0x40
	}
	if c.pending {
		s |= 0x01
	}
	return s
}

// WaitEvent implements EventSource so Serve can run against the
// simulation.
func (c *simController) WaitEvent(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.events:
		return nil
	}
}

// pump runs the ISR synchronously while events are pending, bounded so
// a retry loop in the state machine cannot hang a test.
func (c *simController) pump(e *Engine, max int) {
	for i := 0; i < max; i++ {
		c.mu.Lock()
		p := c.pending
		c.pending = false
		c.mu.Unlock()
		if !p {
			return
		}
		e.ISR()
	}
}

func (c *simController) tape() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.tapeLog))
	copy(out, c.tapeLog)
	return out
}

// ackTarget acknowledges everything, records written bytes and serves
// reads from a canned slice.
type ackTarget struct {
	written  []byte
	readData []byte
	cursor   int
}

func (t *ackTarget) control(byte) bool { return true }

func (t *ackTarget) write(b byte) bool {
	t.written = append(t.written, b)
	return true
}

func (t *ackTarget) read(bool) byte {
	if t.cursor >= len(t.readData) {
		return 0xFF
	}
	b := t.readData[t.cursor]
	t.cursor++
	return b
}

func (t *ackTarget) stop() {}

// busyTarget NACKs the first n control bytes before delegating, like an
// EEPROM in its internal write cycle.
type busyTarget struct {
	simTarget
	n int
}

func (t *busyTarget) control(b byte) bool {
	if t.n > 0 {
		t.n--
		return false
	}
	return t.simTarget.control(b)
}

// nackDataTarget acknowledges the control byte but NACKs data bytes
// after the first `accept`.
type nackDataTarget struct {
	ackTarget
	accept int
}

func (t *nackDataTarget) write(b byte) bool {
	if len(t.written) >= t.accept {
		return false
	}
	return t.ackTarget.write(b)
}

// memTarget is a register-pointer memory device: the first written byte
// after a write-direction control byte sets the pointer, subsequent
// bytes store through it, reads stream from it.
type memTarget struct {
	addr     byte
	mem      [256]byte
	ptr      byte
	awaitPtr bool
}

func newMemTarget(addr byte) *memTarget {
	return &memTarget{addr: addr}
}

func (t *memTarget) control(b byte) bool {
	if b>>1 != t.addr {
		return false
	}
	if b&0x01 == 0 {
		t.awaitPtr = true
	}
	return true
}

func (t *memTarget) write(b byte) bool {
	if t.awaitPtr {
		t.ptr = b
		t.awaitPtr = false
		return true
	}
	t.mem[t.ptr] = b
	t.ptr++
	return true
}

func (t *memTarget) read(bool) byte {
	b := t.mem[t.ptr]
	t.ptr++
	return b
}

func (t *memTarget) stop() {}

// countingGate records interrupt gate transitions.
type countingGate struct {
	mu       sync.Mutex
	enables  int
	disables int
}

func (g *countingGate) EnableIRQ() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enables++
}

func (g *countingGate) DisableIRQ() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disables++
}
