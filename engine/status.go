package engine

import "github.com/mklimuk/i2cm"

// Status is the outcome of a master transaction. It is the only channel
// through which the interrupt handler reports back to the foreground;
// the engine stores it atomically so it can be polled without locks.
type Status int32

const (
	// StatusSuccess means the transaction completed per the requested
	// semantics. It is also the idle baseline after initialization.
	StatusSuccess Status = iota
	// StatusInProgress means a transaction is staged or on the wire.
	StatusInProgress
	// StatusFailed means the target NACKed with ack polling disabled or
	// a protocol violation occurred.
	StatusFailed
	// StatusTimedOut is declared by the waiting caller, never by the
	// interrupt handler.
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInProgress:
		return "in progress"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed out"
	}
	return "unknown"
}

// Err maps a terminal status to its sentinel error. StatusSuccess and
// StatusInProgress map to nil.
func (s Status) Err() error {
	switch s {
	case StatusFailed:
		return i2cm.ErrNACKReceived
	case StatusTimedOut:
		return i2cm.ErrTimeout
	}
	return nil
}
