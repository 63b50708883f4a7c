package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/i2cm"
)

func TestInitiateWhileInProgressRejected(t *testing.T) {
	ctrl := newSimController(&ackTarget{})
	eng := New(ctrl)

	require.NoError(t, eng.Write(0x50, []byte{0x01}, ReleaseBus, AckPollingDisabled))

	// the first transaction has not been serviced yet
	err := eng.Write(0x50, []byte{0x02}, ReleaseBus, AckPollingDisabled)
	assert.ErrorIs(t, err, i2cm.ErrBusBusy)
	err = eng.Read(0x50, make([]byte, 1), ReleaseBus, AckPollingDisabled)
	assert.ErrorIs(t, err, i2cm.ErrBusBusy)

	ctrl.pump(eng, pumpBound)
	assert.Equal(t, StatusSuccess, eng.MasterStatus())
}

func TestInitiateValidation(t *testing.T) {
	eng := New(newSimController(&ackTarget{}))

	assert.Error(t, eng.Write(0x80, []byte{0x01}, ReleaseBus, AckPollingDisabled))
	assert.Error(t, eng.Read(0x50, nil, ReleaseBus, AckPollingDisabled))
	assert.Error(t, eng.WriteRead(0x50, nil, make([]byte, 1), ReleaseBus, AckPollingDisabled))
	assert.Error(t, eng.WriteRead(0x50, []byte{0x01}, nil, ReleaseBus, AckPollingDisabled))
}

func TestWaitCompleteTimesOut(t *testing.T) {
	ctrl := newSimController(&ackTarget{})
	eng := New(ctrl, WithTimeout(5*time.Millisecond), WithPollInterval(time.Millisecond))

	require.NoError(t, eng.Write(0x50, []byte{0x01}, ReleaseBus, AckPollingDisabled))

	// nobody services the interrupt
	err := eng.WaitComplete(context.Background())
	assert.ErrorIs(t, err, i2cm.ErrTimeout)
	assert.Equal(t, StatusTimedOut, eng.MasterStatus())

	// a late completion must not overwrite the declared timeout
	ctrl.pump(eng, pumpBound)
	assert.Equal(t, StatusTimedOut, eng.MasterStatus())
}

func TestWaitCompleteContextCancel(t *testing.T) {
	ctrl := newSimController(&ackTarget{})
	eng := New(ctrl, WithTimeout(0), WithPollInterval(time.Millisecond))

	require.NoError(t, eng.Write(0x50, []byte{0x01}, ReleaseBus, AckPollingDisabled))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := eng.WaitComplete(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitCompleteReportsFailure(t *testing.T) {
	ctrl := newSimController(&busyTarget{simTarget: &ackTarget{}, n: 1000})
	eng := New(ctrl, WithPollInterval(time.Millisecond))

	require.NoError(t, eng.Write(0x50, []byte{0x01}, ReleaseBus, AckPollingDisabled))
	ctrl.pump(eng, pumpBound)

	err := eng.WaitComplete(context.Background())
	assert.ErrorIs(t, err, i2cm.ErrNACKReceived)
	// an unacknowledged control byte means nobody answered the address
	assert.ErrorIs(t, err, i2cm.ErrNoSuchDevice)
}

func TestDataNACKIsNotNoSuchDevice(t *testing.T) {
	ctrl := newSimController(&nackDataTarget{accept: 0})
	eng := New(ctrl, WithPollInterval(time.Millisecond))

	require.NoError(t, eng.Write(0x50, []byte{0x01}, ReleaseBus, AckPollingDisabled))
	ctrl.pump(eng, pumpBound)

	// the device answered its address and rejected the data, so only
	// the NACK sentinel applies
	err := eng.WaitComplete(context.Background())
	assert.ErrorIs(t, err, i2cm.ErrNACKReceived)
	assert.NotErrorIs(t, err, i2cm.ErrNoSuchDevice)
}

func TestConfigure(t *testing.T) {
	ctrl := newSimController(&ackTarget{})
	eng := New(ctrl)

	eng.Configure(0x63)

	assert.Equal(t, uint16(0x63), ctrl.prescale)
	assert.True(t, ctrl.enabled)
	assert.True(t, ctrl.irqOn)
}

func TestStartStopPrimitives(t *testing.T) {
	ctrl := newSimController(&ackTarget{})
	eng := New(ctrl)

	// nothing staged yet
	assert.Error(t, eng.Start())

	require.NoError(t, eng.Write(0x50, []byte{0xAA}, HoldBus, AckPollingDisabled))
	ctrl.pump(eng, pumpBound)
	require.True(t, eng.BusHeld())

	eng.Stop()
	assert.False(t, eng.BusHeld())
	assert.Equal(t, "STOP", ctrl.tape()[len(ctrl.tape())-1])
}

func TestRawStatusReflectsController(t *testing.T) {
	ctrl := newSimController(&busyTarget{simTarget: &ackTarget{}, n: 1000})
	eng := New(ctrl)

	require.NoError(t, eng.Write(0x50, []byte{0x01}, ReleaseBus, AckPollingDisabled))
	// control byte NACKed: bit 7 of the raw status is set
	assert.NotZero(t, eng.RawStatus()&0x80)
}

func TestStatusStrings(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusSuccess, "success"},
		{StatusInProgress, "in progress"},
		{StatusFailed, "failed"},
		{StatusTimedOut, "timed out"},
		{Status(42), "unknown"},
	}
	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.status.String())
		})
	}
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, StatusSuccess.Err())
	assert.NoError(t, StatusInProgress.Err())
	assert.ErrorIs(t, StatusFailed.Err(), i2cm.ErrNACKReceived)
	assert.ErrorIs(t, StatusTimedOut.Err(), i2cm.ErrTimeout)
}
