package state

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/servo-bridge/backend/internal/device"
	"github.com/servo-bridge/backend/internal/models"
	"github.com/servo-bridge/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, n int) (*Store, *testutil.MockActuator) {
	t.Helper()
	act := testutil.NewMockActuator(n)
	s := New(act, Options{
		Channels: n,
		Range:    models.DefaultRange,
		Initial:  90,
		Safe:     90,
		Status:   models.DeviceStatuses{models.DeviceActuator: models.StatusConnected},
	})
	return s, act
}

func positions(snap models.Snapshot) []float64 {
	out := make([]float64, len(snap.Channels))
	for i, ch := range snap.Channels {
		out[i] = ch.Position
	}
	return out
}

func TestNewStore(t *testing.T) {
	s, _ := newTestStore(t, 4)
	snap := s.Snapshot()

	want := models.Snapshot{
		Channels: []models.ActuatorChannel{
			{ID: 0, Position: 90}, {ID: 1, Position: 90}, {ID: 2, Position: 90}, {ID: 3, Position: 90},
		},
		Status: models.DeviceStatuses{
			models.DeviceActuator:   models.StatusConnected,
			models.DeviceSensor:     models.StatusDisconnected,
			models.DeviceController: models.StatusDisconnected,
		},
		Speed: DefaultSpeed,
	}
	if diff := cmp.Diff(want, snap, cmpopts.IgnoreFields(models.Snapshot{}, "At")); diff != "" {
		t.Errorf("initial snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestApplySetChannel(t *testing.T) {
	tests := []struct {
		name        string
		channel     int
		position    float64
		wantPos     float64
		wantClamped bool
	}{
		{"in range", 1, 45, 45, false},
		{"lower bound", 0, 0, 0, false},
		{"upper bound", 3, 180, 180, false},
		{"above range", 2, 999, 180, true},
		{"below range", 2, -15, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, act := newTestStore(t, 4)

			res, err := s.Apply(models.SetChannel(tt.channel, tt.position).From(models.SourceAPI))
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tt.wantClamped, res.Clamped)
			require.NotNil(t, res.Channel)
			assert.Equal(t, tt.wantPos, res.Channel.Position)
			if tt.wantClamped {
				require.NotNil(t, res.Requested)
				assert.Equal(t, tt.position, *res.Requested)
			} else {
				assert.Nil(t, res.Requested)
			}

			ch, ok := s.Snapshot().Channel(tt.channel)
			require.True(t, ok)
			assert.Equal(t, tt.wantPos, ch.Position)

			written, ok := act.Position(tt.channel)
			require.True(t, ok)
			assert.Equal(t, tt.wantPos, written)
		})
	}
}

func TestApplyInvalidChannelLeavesStoreUnchanged(t *testing.T) {
	for _, id := range []int{-1, 4, 100} {
		s, act := newTestStore(t, 4)
		before := s.Snapshot()

		_, err := s.Apply(models.SetChannel(id, 45))
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.ErrKindValidation))

		after := s.Snapshot()
		assert.Equal(t, before.Seq, after.Seq)
		assert.Equal(t, positions(before), positions(after))
		assert.Zero(t, act.Writes())
	}
}

func TestApplyRejectsNonFinitePosition(t *testing.T) {
	s, _ := newTestStore(t, 4)
	_, err := s.Apply(models.SetChannel(0, math.NaN()))
	assert.True(t, models.IsKind(err, models.ErrKindValidation))
	_, err = s.Apply(models.SetAllChannels(math.Inf(1)))
	assert.True(t, models.IsKind(err, models.ErrKindValidation))
}

func TestApplySetAllChannels(t *testing.T) {
	s, _ := newTestStore(t, 4)

	res, err := s.Apply(models.SetAllChannels(45))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, []float64{45, 45, 45, 45}, positions(s.Snapshot()))
}

func TestHoldPolicy(t *testing.T) {
	s, act := newTestStore(t, 4)

	res, err := s.Apply(models.ToggleHold(1))
	require.NoError(t, err)
	require.NotNil(t, res.Channel)
	assert.True(t, res.Channel.Held)

	t.Run("controller move is skipped", func(t *testing.T) {
		res, err := s.Apply(models.SetChannel(1, 10).From(models.SourceController))
		require.NoError(t, err)
		assert.Equal(t, []int{1}, res.Skipped)
		ch, _ := s.Snapshot().Channel(1)
		assert.Equal(t, 90.0, ch.Position)
	})

	t.Run("explicit move is rejected", func(t *testing.T) {
		for _, src := range []models.Source{models.SourceAPI, models.SourceStream} {
			_, err := s.Apply(models.SetChannel(1, 10).From(src))
			require.Error(t, err)
			var cerr *models.CommandError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, models.ErrKindChannelHeld, cerr.Kind)
			assert.Equal(t, 1, cerr.Channel)
		}
	})

	t.Run("move all skips held channel", func(t *testing.T) {
		res, err := s.Apply(models.SetAllChannels(30).From(models.SourceAPI))
		require.NoError(t, err)
		assert.Equal(t, []int{1}, res.Skipped)
		assert.Equal(t, []float64{30, 90, 30, 30}, positions(s.Snapshot()))
		_, written := act.Position(1)
		assert.False(t, written)
	})

	t.Run("release hold", func(t *testing.T) {
		res, err := s.Apply(models.ToggleHold(1))
		require.NoError(t, err)
		assert.False(t, res.Channel.Held)
		_, err = s.Apply(models.SetChannel(1, 10).From(models.SourceAPI))
		require.NoError(t, err)
	})
}

func TestApplyActuatorFailure(t *testing.T) {
	s, act := newTestStore(t, 4)
	act.FailChannel(2, testutil.ErrInjected)

	_, err := s.Apply(models.SetChannel(2, 10))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrKindHardwareRejected))
	assert.ErrorIs(t, err, testutil.ErrInjected)

	snap := s.Snapshot()
	ch, _ := snap.Channel(2)
	assert.Equal(t, 90.0, ch.Position, "failed write must not be committed")
	assert.Equal(t, models.StatusError, snap.Status[models.DeviceActuator])

	act.FailChannel(2, nil)
	_, err = s.Apply(models.SetChannel(2, 10))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, s.Snapshot().Status[models.DeviceActuator])
}

func TestApplySetAllChannelsRollsBackOnFailure(t *testing.T) {
	s, act := newTestStore(t, 4)
	before := s.Snapshot()
	act.FailChannel(2, testutil.ErrInjected)

	res, err := s.Apply(models.SetAllChannels(45))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrKindHardwareRejected))
	assert.False(t, res.Success)

	snap := s.Snapshot()
	assert.Equal(t, []float64{90, 90, 90, 90}, positions(snap))
	assert.Equal(t, models.StatusError, snap.Status[models.DeviceActuator])
	for _, ch := range []int{0, 1} {
		pos, ok := act.Position(ch)
		require.True(t, ok)
		assert.Equal(t, 90.0, pos, "channel %d must be driven back", ch)
	}
	_, written := act.Position(3)
	assert.False(t, written, "channels after the failure are not touched")

	act.FailChannel(2, nil)
	_, err = s.Apply(models.SetAllChannels(45))
	require.NoError(t, err)
	assert.Equal(t, []float64{45, 45, 45, 45}, positions(s.Snapshot()))
	assert.Greater(t, s.Snapshot().Seq, before.Seq)
}

func TestApplyActuatorNotConnected(t *testing.T) {
	s := New(device.NewAbsentActuator(4), Options{Channels: 4, Initial: 90})
	_, err := s.Apply(models.SetChannel(0, 10))
	assert.True(t, models.IsKind(err, models.ErrKindNotConnected))
	assert.Equal(t, models.StatusDisconnected, s.Snapshot().Status[models.DeviceActuator])
}

func TestApplySetSpeed(t *testing.T) {
	s, _ := newTestStore(t, 4)

	res, err := s.Apply(models.SetSpeed(1.5))
	require.NoError(t, err)
	assert.Equal(t, 1.5, res.Speed)
	assert.False(t, res.Clamped)

	res, err = s.Apply(models.SetSpeed(5))
	require.NoError(t, err)
	assert.Equal(t, MaxSpeed, res.Speed)
	assert.True(t, res.Clamped)

	res, err = s.Apply(models.SetSpeed(0))
	require.NoError(t, err)
	assert.Equal(t, MinSpeed, res.Speed)
	assert.Equal(t, MinSpeed, s.Speed())
}

func TestApplyGetStatus(t *testing.T) {
	s, _ := newTestStore(t, 2)
	res, err := s.Apply(models.GetStatus())
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.Len(t, res.Snapshot.Channels, 2)
}

func TestApplyUnknownAction(t *testing.T) {
	s, _ := newTestStore(t, 2)
	_, err := s.Apply(models.Command{Action: "dance"})
	assert.True(t, models.IsKind(err, models.ErrKindValidation))
}

func TestSensorUpdates(t *testing.T) {
	s, _ := newTestStore(t, 1)
	reading := models.SensorSnapshot{Accel: models.Vec3{Z: 1}, Temp: 30, Valid: true}

	s.UpdateSensor(reading)
	assert.Equal(t, reading, s.Snapshot().Sensor)

	seq := s.Snapshot().Seq
	s.InvalidateSensor()
	snap := s.Snapshot()
	assert.False(t, snap.Sensor.Valid)
	assert.Equal(t, 30.0, snap.Sensor.Temp, "stale reading is kept")
	assert.Equal(t, seq+1, snap.Seq)

	s.InvalidateSensor()
	assert.Equal(t, seq+1, s.Snapshot().Seq)
}

func TestUpdateStatus(t *testing.T) {
	s, _ := newTestStore(t, 1)
	assert.True(t, s.UpdateStatus(models.DeviceSensor, models.StatusConnected))
	assert.False(t, s.UpdateStatus(models.DeviceSensor, models.StatusConnected))
	assert.Equal(t, models.StatusConnected, s.Snapshot().Status[models.DeviceSensor])
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := newTestStore(t, 2)
	snap := s.Snapshot()
	snap.Channels[0].Position = 1
	snap.Status[models.DeviceActuator] = models.StatusError

	fresh := s.Snapshot()
	assert.Equal(t, 90.0, fresh.Channels[0].Position)
	assert.Equal(t, models.StatusConnected, fresh.Status[models.DeviceActuator])
}

func TestPark(t *testing.T) {
	act := testutil.NewMockActuator(3)
	s := New(act, Options{Channels: 3, Initial: 90, Safe: 45})
	_, err := s.Apply(models.ToggleHold(0))
	require.NoError(t, err)
	_, err = s.Apply(models.SetAllChannels(120))
	require.NoError(t, err)

	require.NoError(t, s.Park(context.Background()))
	assert.Equal(t, []float64{45, 45, 45}, positions(s.Snapshot()))
	assert.True(t, act.Released())
}

func TestHome(t *testing.T) {
	s, act := newTestStore(t, 3)
	require.NoError(t, s.Home())
	assert.Equal(t, 3, act.Writes())
}

func TestConcurrentApplyKeepsSnapshotsConsistent(t *testing.T) {
	s, _ := newTestStore(t, 4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.Apply(models.SetAllChannels(float64(i * 10)))
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		snap := s.Snapshot()
		first := snap.Channels[0].Position
		for _, ch := range snap.Channels {
			require.Equal(t, first, ch.Position, "snapshot must never mix two SetAll commands")
		}
		select {
		case <-done:
			return
		default:
		}
	}
}
