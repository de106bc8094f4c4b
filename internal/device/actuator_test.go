package device

import (
	"errors"
	"testing"

	"github.com/servo-bridge/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

func TestPulseMap(t *testing.T) {
	m := PulseMap{Range: models.DefaultRange, PulseMin: 150, PulseMax: 600}

	tests := []struct {
		name    string
		degrees float64
		want    int
	}{
		{"min", 0, 150},
		{"max", 180, 600},
		{"center", 90, 375},
		{"below range", -20, 150},
		{"above range", 999, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Pulse(tt.degrees))
		})
	}
}

func TestSimulatedActuator(t *testing.T) {
	a := NewSimulatedActuator(4)
	assert.Equal(t, models.StatusConnected, a.Initialize())
	assert.Equal(t, 4, a.Channels())

	require.NoError(t, a.SetChannel(2, 45))
	pos, ok := a.Position(2)
	require.True(t, ok)
	assert.Equal(t, 45.0, pos)

	assert.ErrorIs(t, a.SetChannel(4, 10), ErrChannelOutOfRange)
	assert.ErrorIs(t, a.SetChannel(-1, 10), ErrChannelOutOfRange)

	require.NoError(t, a.Release())
	assert.True(t, a.Released())
}

func TestAbsentActuator(t *testing.T) {
	a := NewAbsentActuator(4)
	assert.Equal(t, models.StatusDisconnected, a.Initialize())
	assert.ErrorIs(t, a.SetChannel(0, 90), ErrNotConnected)
	assert.NoError(t, a.Release())
}

type pwmCall struct {
	channel int
	off     gpio.Duty
}

type fakePWM struct {
	calls    []pwmCall
	released bool
	err      error
}

func (f *fakePWM) SetPwmFreq(physic.Frequency) error { return nil }

func (f *fakePWM) SetPwm(channel int, _, off gpio.Duty) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, pwmCall{channel: channel, off: off})
	return nil
}

func (f *fakePWM) SetAllPwm(_, _ gpio.Duty) error {
	f.released = true
	return f.err
}

func newTestPCA9685(drv pwmDriver) *PCA9685 {
	p := NewPCA9685(PCA9685Config{
		Channels: 4,
		Pulses:   PulseMap{Range: models.DefaultRange, PulseMin: 150, PulseMax: 600},
	}, zap.NewNop())
	if drv != nil {
		p.dev = drv
	}
	return p
}

func TestPCA9685SetChannel(t *testing.T) {
	drv := &fakePWM{}
	p := newTestPCA9685(drv)

	require.NoError(t, p.SetChannel(1, 180))
	require.NoError(t, p.SetChannel(3, 0))
	assert.Equal(t, []pwmCall{{1, 600}, {3, 150}}, drv.calls)

	assert.ErrorIs(t, p.SetChannel(4, 90), ErrChannelOutOfRange)

	require.NoError(t, p.Release())
	assert.True(t, drv.released)
}

func TestPCA9685DriverError(t *testing.T) {
	busErr := errors.New("i2c nack")
	p := newTestPCA9685(&fakePWM{err: busErr})

	err := p.SetChannel(0, 90)
	require.Error(t, err)

	var derr *DriverError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "pca9685", derr.Device)
	assert.ErrorIs(t, err, busErr)
}

func TestPCA9685NotConnected(t *testing.T) {
	p := newTestPCA9685(nil)
	assert.ErrorIs(t, p.SetChannel(0, 90), ErrNotConnected)
	assert.NoError(t, p.Release())
	assert.NoError(t, p.Close())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, models.StatusConnected, statusFor(nil))
	assert.Equal(t, models.StatusDisconnected, statusFor(ErrNotConnected))
	assert.Equal(t, models.StatusDisconnected, statusFor(errors.Join(ErrNoController, errors.New("x"))))
	assert.Equal(t, models.StatusError, statusFor(errors.New("bus fault")))
}
