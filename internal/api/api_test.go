package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/servo-bridge/backend/internal/config"
	"github.com/servo-bridge/backend/internal/device"
	"github.com/servo-bridge/backend/internal/gateway"
	"github.com/servo-bridge/backend/internal/hub"
	"github.com/servo-bridge/backend/internal/journal"
	"github.com/servo-bridge/backend/internal/metrics"
	"github.com/servo-bridge/backend/internal/models"
	"github.com/servo-bridge/backend/internal/state"
	"github.com/servo-bridge/backend/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fixture wires the real store, gateway and hub over a mock actuator.
type fixture struct {
	e        *echo.Echo
	store    *state.Store
	actuator *testutil.MockActuator
	journal  *journal.Journal
	registry *hub.Registry
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, hub.Options{SendQueue: 16, WriteTimeout: time.Second})
}

func newFixtureWith(t *testing.T, opts hub.Options) *fixture {
	t.Helper()
	act := testutil.NewMockActuator(4)
	store := state.New(act, state.Options{
		Channels: 4,
		Range:    models.DefaultRange,
		Initial:  90,
		Safe:     90,
		Status: models.DeviceStatuses{
			models.DeviceActuator:   models.StatusConnected,
			models.DeviceSensor:     models.StatusConnected,
			models.DeviceController: models.StatusDisconnected,
		},
	})

	j, err := journal.Open(journal.Options{Driver: "sqlite", Path: ":memory:", BufferSize: 64, FlushInterval: time.Hour}, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	m := metrics.New()
	reg := hub.NewRegistry(store, opts, j, m, zap.NewNop())
	t.Cleanup(reg.CloseAll)
	b := hub.NewBroadcaster(store, reg, time.Hour, m, zap.NewNop())
	gw := gateway.New(store, b, j, m, zap.NewNop())

	e := echo.New()
	SetupMiddleware(e, config.ServerConfig{BodyLimit: "64K"}, zap.NewNop())
	RegisterRoutes(e, NewHandlers(&Dependencies{
		State:    store,
		Gateway:  gw,
		Journal:  j,
		Registry: reg,
		Metrics:  m,
		Logger:   zap.NewNop(),
		Version:  "test",
	}), "/metrics")

	return &fixture{e: e, store: store, actuator: act, journal: j, registry: reg, metrics: m}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var _ device.Actuator = (*testutil.MockActuator)(nil)
