package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/servo-bridge/backend/internal/metrics"
	"github.com/servo-bridge/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openMemory(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Options{Driver: "sqlite", Path: ":memory:", BufferSize: 16, FlushInterval: time.Hour}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestJournalRoundTrip(t *testing.T) {
	j := openMemory(t)
	at := time.UnixMilli(1700000000123)

	j.Record(models.Event{
		Time:    at,
		Kind:    models.EventCommand,
		Source:  models.SourceAPI,
		Action:  models.ActionSetChannel,
		Channel: intPtr(2),
		Value:   floatPtr(45),
	})
	j.Record(models.Event{
		Time:    at.Add(time.Millisecond),
		Kind:    models.EventClamp,
		Source:  models.SourceStream,
		Action:  models.ActionSetChannel,
		Channel: intPtr(2),
		Value:   floatPtr(999),
		Detail:  "clamped to 180",
	})
	j.Record(models.Event{Time: at.Add(2 * time.Millisecond), Kind: models.EventDeviceStatus, Detail: "sensor: error"})

	events, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// newest first
	assert.Equal(t, models.EventDeviceStatus, events[0].Kind)
	assert.Nil(t, events[0].Channel)
	assert.Nil(t, events[0].Value)

	clamp := events[1]
	assert.Equal(t, models.EventClamp, clamp.Kind)
	assert.Equal(t, models.SourceStream, clamp.Source)
	require.NotNil(t, clamp.Channel)
	assert.Equal(t, 2, *clamp.Channel)
	require.NotNil(t, clamp.Value)
	assert.Equal(t, 999.0, *clamp.Value)
	assert.Equal(t, "clamped to 180", clamp.Detail)

	assert.Equal(t, at.UnixMilli(), events[2].Time.UnixMilli())
	assert.Greater(t, events[0].ID, events[2].ID)
}

func TestJournalLimit(t *testing.T) {
	j := openMemory(t)
	for i := 0; i < 20; i++ {
		j.Record(models.Event{Kind: models.EventCommand, Value: floatPtr(float64(i))})
		if i%8 == 7 {
			// keep the small test buffer from overflowing
			require.NoError(t, j.Flush(context.Background()))
		}
	}

	events, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, 19.0, *events[0].Value)
}

func TestJournalDropsWhenFull(t *testing.T) {
	m := metrics.New()
	// no flusher: the queue only drains when a test reads it
	j := &Journal{events: make(chan models.Event, 1), metrics: m, log: zap.NewNop()}

	j.Record(models.Event{Kind: models.EventCommand})
	j.Record(models.Event{Kind: models.EventCommand})
	j.Record(models.Event{Kind: models.EventCommand})

	assert.Len(t, j.events, 1)
	assert.Equal(t, 2.0, counterValue(t, m, "servobridge_journal_dropped_total"))
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.NotEmpty(t, mf.GetMetric())
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	opts := Options{Driver: "sqlite", Path: path, FlushInterval: time.Hour}

	j, err := Open(opts, nil, zap.NewNop())
	require.NoError(t, err)
	j.Record(models.Event{Kind: models.EventHold, Channel: intPtr(1), Detail: "held"})
	require.NoError(t, j.Close())

	j, err = Open(opts, nil, zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	events, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventHold, events[0].Kind)
}

func TestJournalClosed(t *testing.T) {
	j, err := Open(Options{Driver: "sqlite", Path: ":memory:"}, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	j.Record(models.Event{Kind: models.EventCommand})
	_, err = j.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(Options{Driver: "postgres"}, nil, zap.NewNop())
	assert.Error(t, err)
}
