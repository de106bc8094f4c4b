package device

import (
	"fmt"
	"strings"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/servo-bridge/backend/internal/models"
	"go.uber.org/zap"
)

// EvdevConfig configures a Linux input-event controller.
type EvdevConfig struct {
	// DevicePath pins a device node; empty means discover by name.
	DevicePath        string
	NameMatch         []string
	AxisMax           int
	TriggerMax        int
	Deadzone          float64
	ReconnectInterval time.Duration
	BufferSize        int
}

// inputDevice is the subset of evdev.InputDevice in use.
type inputDevice interface {
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

// deviceFinder locates and opens the controller, returning its name.
type deviceFinder func(cfg EvdevConfig) (inputDevice, string, error)

// Evdev reads a game controller through /dev/input. A reader goroutine
// normalises events into a bounded buffer that Poll drains; events beyond
// the buffer are dropped.
type Evdev struct {
	cfg  EvdevConfig
	log  *zap.Logger
	find deviceFinder
	now  func() time.Time

	mu          sync.Mutex
	dev         inputDevice
	events      chan ControllerEvent
	readErr     error
	lastAttempt time.Time
	dropped     uint64
}

// NewEvdev returns an evdev controller that discovers devices on Poll.
func NewEvdev(cfg EvdevConfig, log *zap.Logger) *Evdev {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 256
	}
	return &Evdev{cfg: cfg, log: log, find: findEvdevDevice, now: time.Now}
}

// Initialize attempts the first discovery.
func (e *Evdev) Initialize() models.DeviceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return statusFor(e.connectLocked())
}

// Poll drains buffered events. After a read failure it reports the
// controller missing and retries discovery at most every ReconnectInterval.
func (e *Evdev) Poll() ([]ControllerEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dev == nil {
		if e.now().Sub(e.lastAttempt) < e.cfg.ReconnectInterval {
			return nil, ErrNoController
		}
		if err := e.connectLocked(); err != nil {
			return nil, err
		}
	}

	var out []ControllerEvent
drain:
	for {
		select {
		case ev := <-e.events:
			out = append(out, ev)
		default:
			break drain
		}
	}

	if e.readErr != nil {
		err := e.readErr
		e.dev.Close()
		e.dev, e.readErr = nil, nil
		e.lastAttempt = e.now()
		e.log.Warn("controller disconnected", zap.Error(err))
		return out, fmt.Errorf("%w: %v", ErrNoController, err)
	}
	return out, nil
}

// Dropped returns the number of events lost to a full buffer.
func (e *Evdev) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close stops the reader by closing the device node.
func (e *Evdev) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dev == nil {
		return nil
	}
	err := e.dev.Close()
	e.dev = nil
	return err
}

func (e *Evdev) connectLocked() error {
	e.lastAttempt = e.now()
	dev, name, err := e.find(e.cfg)
	if err != nil {
		return err
	}
	events := make(chan ControllerEvent, e.cfg.BufferSize)
	e.dev, e.events, e.readErr = dev, events, nil
	e.log.Info("controller connected", zap.String("name", name))
	go e.readLoop(dev, events)
	return nil
}

func (e *Evdev) readLoop(dev inputDevice, events chan<- ControllerEvent) {
	for {
		raw, err := dev.ReadOne()
		if err != nil {
			e.mu.Lock()
			if e.dev == dev {
				e.readErr = err
			}
			e.mu.Unlock()
			return
		}
		ev, ok := e.normalize(raw)
		if !ok {
			continue
		}
		select {
		case events <- ev:
		default:
			e.mu.Lock()
			e.dropped++
			e.mu.Unlock()
		}
	}
}

var evdevButtons = map[evdev.EvCode]Input{
	evdev.BTN_SOUTH:  InputA,
	evdev.BTN_EAST:   InputB,
	evdev.BTN_WEST:   InputX,
	evdev.BTN_NORTH:  InputY,
	evdev.BTN_TL:     InputLB,
	evdev.BTN_TR:     InputRB,
	evdev.BTN_START:  InputStart,
	evdev.BTN_SELECT: InputSelect,
}

var evdevAxes = map[evdev.EvCode]Input{
	evdev.ABS_X:  InputLeftX,
	evdev.ABS_Y:  InputLeftY,
	evdev.ABS_RX: InputRightX,
	evdev.ABS_RY: InputRightY,
}

var evdevTriggers = map[evdev.EvCode]Input{
	evdev.ABS_Z:     InputLeftTrigger,
	evdev.ABS_RZ:    InputRightTrigger,
	evdev.ABS_BRAKE: InputLeftTrigger,
	evdev.ABS_GAS:   InputRightTrigger,
}

var evdevHats = map[evdev.EvCode]Input{
	evdev.ABS_HAT0X: InputDPadX,
	evdev.ABS_HAT0Y: InputDPadY,
}

// normalize maps a raw input event to a ControllerEvent. Key repeats and
// sync events are dropped.
func (e *Evdev) normalize(raw *evdev.InputEvent) (ControllerEvent, bool) {
	switch raw.Type {
	case evdev.EV_KEY:
		in, ok := evdevButtons[raw.Code]
		if !ok || raw.Value > 1 {
			return ControllerEvent{}, false
		}
		return Button(in, raw.Value == 1), true

	case evdev.EV_ABS:
		if in, ok := evdevAxes[raw.Code]; ok {
			v := float64(raw.Value) / float64(e.cfg.AxisMax)
			v = min(max(v, -1), 1)
			if v > -e.cfg.Deadzone && v < e.cfg.Deadzone {
				v = 0
			}
			return Axis(in, v), true
		}
		if in, ok := evdevTriggers[raw.Code]; ok {
			v := float64(raw.Value) / float64(e.cfg.TriggerMax)
			return Trigger(in, min(max(v, 0), 1)), true
		}
		if in, ok := evdevHats[raw.Code]; ok {
			v := 0.0
			switch {
			case raw.Value < 0:
				v = -1
			case raw.Value > 0:
				v = 1
			}
			return Hat(in, v), true
		}
	}
	return ControllerEvent{}, false
}

// findEvdevDevice opens cfg.DevicePath or the first input device whose name
// contains one of cfg.NameMatch.
func findEvdevDevice(cfg EvdevConfig) (inputDevice, string, error) {
	if cfg.DevicePath != "" {
		dev, err := evdev.Open(cfg.DevicePath)
		if err != nil {
			return nil, "", fmt.Errorf("%w: open %s: %v", ErrNoController, cfg.DevicePath, err)
		}
		name, _ := dev.Name()
		return dev, name, nil
	}

	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, "", fmt.Errorf("%w: list input devices: %v", ErrNoController, err)
	}
	for _, p := range paths {
		if !matchesName(p.Name, cfg.NameMatch) {
			continue
		}
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		return dev, p.Name, nil
	}
	return nil, "", ErrNoController
}

func matchesName(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
