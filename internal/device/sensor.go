package device

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/servo-bridge/backend/internal/models"
)

// Sensor samples the inertial measurement unit.
type Sensor interface {
	Presence
	// Read returns one sample. It returns ErrReadTimeout when ctx expires
	// before the bus transaction finishes.
	Read(ctx context.Context) (models.SensorSnapshot, error)
}

// readGuard runs a blocking read in its own goroutine so the caller can give
// up on ctx. Only one read is ever in flight; a stuck transaction makes later
// reads fail fast with ErrReadTimeout until it returns.
type readGuard struct {
	inflight atomic.Bool
}

type readResult struct {
	snap models.SensorSnapshot
	err  error
}

func (g *readGuard) do(ctx context.Context, read func() (models.SensorSnapshot, error)) (models.SensorSnapshot, error) {
	if !g.inflight.CompareAndSwap(false, true) {
		return models.SensorSnapshot{}, ErrReadTimeout
	}
	done := make(chan readResult, 1)
	go func() {
		snap, err := read()
		g.inflight.Store(false)
		done <- readResult{snap: snap, err: err}
	}()

	select {
	case r := <-done:
		return r.snap, r.err
	case <-ctx.Done():
		return models.SensorSnapshot{}, ErrReadTimeout
	}
}

// SimulatedSensor produces a slow random walk around a level, resting board.
type SimulatedSensor struct {
	mu   sync.Mutex
	rng  *rand.Rand
	last models.SensorSnapshot
	now  func() time.Time
}

// NewSimulatedSensor returns a simulated sensor seeded with seed.
func NewSimulatedSensor(seed uint64) *SimulatedSensor {
	return &SimulatedSensor{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		last: models.SensorSnapshot{
			Accel: models.Vec3{Z: 1},
			Temp:  25,
		},
		now: time.Now,
	}
}

func (s *SimulatedSensor) Initialize() models.DeviceStatus { return models.StatusConnected }

func (s *SimulatedSensor) Close() error { return nil }

func (s *SimulatedSensor) Read(ctx context.Context) (models.SensorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.SensorSnapshot{}, ErrReadTimeout
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	walk := func(v, step, lo, hi float64) float64 {
		v += (s.rng.Float64()*2 - 1) * step
		return min(max(v, lo), hi)
	}
	next := s.last
	next.Accel = models.Vec3{
		X: walk(next.Accel.X, 0.02, -1, 1),
		Y: walk(next.Accel.Y, 0.02, -1, 1),
		Z: walk(next.Accel.Z, 0.02, 0.8, 1.2),
	}
	next.Gyro = models.Vec3{
		X: walk(next.Gyro.X, 1, -25, 25),
		Y: walk(next.Gyro.Y, 1, -25, 25),
		Z: walk(next.Gyro.Z, 1, -25, 25),
	}
	next.Temp = walk(next.Temp, 0.05, 20, 40)
	next.Valid = true
	next.At = s.now()
	s.last = next
	return next, nil
}

// AbsentSensor is used when no sensor is configured.
type AbsentSensor struct{}

func (AbsentSensor) Initialize() models.DeviceStatus { return models.StatusDisconnected }
func (AbsentSensor) Close() error                    { return nil }
func (AbsentSensor) Read(context.Context) (models.SensorSnapshot, error) {
	return models.SensorSnapshot{}, ErrNotConnected
}
