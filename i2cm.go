package i2cm

import (
	"context"
	"errors"
)

// ErrBusBusy is returned when a transaction is requested while the
// engine still owns an unfinished one.
var ErrBusBusy = errors.New("I2C engine is busy (transaction in progress)")

// ErrNACKReceived signals that the target device did not acknowledge
// a transferred byte.
var ErrNACKReceived = errors.New("NACK received")

// ErrNoSuchDevice signals that no device acknowledged the control byte
// at the requested address.
var ErrNoSuchDevice = errors.New("no such device")

// ErrTimeout signals that a transaction did not complete within the
// caller-supplied budget.
var ErrTimeout = errors.New("transaction timed out")

type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// AddressableWriteReader performs a combined transaction: a write phase
// followed by a read phase with a repeated START and no STOP in between.
type AddressableWriteReader interface {
	WriteReadAddr(ctx context.Context, address byte, w, r []byte) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
	AddressableWriteReader
}

type I2CDevice interface {
	BusReader
	BusWriter
}
