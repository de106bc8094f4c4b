package device

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/servo-bridge/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memPort struct {
	bytes.Buffer
	closed bool
}

func (p *memPort) Close() error {
	p.closed = true
	return nil
}

func newTestMaestro(t *testing.T) (*Maestro, *memPort) {
	t.Helper()
	port := &memPort{}
	m := NewMaestro(MaestroConfig{
		Port:     "/dev/ttyACM0",
		BaudRate: 9600,
		Channels: 4,
		Pulses:   PulseMap{Range: models.DefaultRange, PulseMin: 500, PulseMax: 2500},
	}, func(path string, baud int) (io.WriteCloser, error) {
		assert.Equal(t, "/dev/ttyACM0", path)
		assert.Equal(t, 9600, baud)
		return port, nil
	}, zap.NewNop())
	require.Equal(t, models.StatusConnected, m.Initialize())
	return m, port
}

func TestMaestroSetTarget(t *testing.T) {
	m, port := newTestMaestro(t)

	// 90 degrees -> 1500us -> 6000 quarter-us = 0x70 | 0x2E<<7
	require.NoError(t, m.SetChannel(2, 90))
	assert.Equal(t, []byte{0x84, 2, 0x70, 0x2E}, port.Bytes())

	assert.ErrorIs(t, m.SetChannel(7, 90), ErrChannelOutOfRange)
}

func TestMaestroRelease(t *testing.T) {
	m, port := newTestMaestro(t)

	require.NoError(t, m.Release())
	assert.Equal(t, []byte{
		0x84, 0, 0, 0,
		0x84, 1, 0, 0,
		0x84, 2, 0, 0,
		0x84, 3, 0, 0,
	}, port.Bytes())

	require.NoError(t, m.Close())
	assert.True(t, port.closed)
	assert.ErrorIs(t, m.SetChannel(0, 90), ErrNotConnected)
}

func TestMaestroPortMissing(t *testing.T) {
	m := NewMaestro(MaestroConfig{Channels: 4}, func(string, int) (io.WriteCloser, error) {
		return nil, errors.New("no such file")
	}, zap.NewNop())

	assert.Equal(t, models.StatusDisconnected, m.Initialize())
	assert.ErrorIs(t, m.SetChannel(0, 90), ErrNotConnected)
}
