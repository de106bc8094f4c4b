package poller

import (
	"context"
	"math"

	"github.com/servo-bridge/backend/internal/device"
	"github.com/servo-bridge/backend/internal/models"
	"github.com/servo-bridge/backend/internal/state"
)

// stickChannel maps each stick axis to a channel. The X axes are reversed
// so pushing a stick right turns the servo the same way on both sides.
var stickChannel = map[device.Input]struct {
	channel  int
	reversed bool
}{
	device.InputLeftX:  {0, true},
	device.InputLeftY:  {1, false},
	device.InputRightY: {2, false},
	device.InputRightX: {3, true},
}

// holdButton maps face buttons to the channel whose hold they toggle.
var holdButton = map[device.Input]int{
	device.InputA: 0,
	device.InputX: 1,
	device.InputB: 2,
	device.InputY: 3,
}

const speedStep = 0.1

func (p *Poller) handle(ctx context.Context, ev device.ControllerEvent) {
	switch ev.Kind {
	case device.InputAxis:
		p.handleStick(ctx, ev)
	case device.InputTrigger:
		p.handleTrigger(ctx, ev)
	case device.InputHat:
		p.handleHat(ctx, ev)
	case device.InputButton:
		if ev.Pressed {
			p.handleButton(ctx, ev)
		}
	}
}

func (p *Poller) handleStick(ctx context.Context, ev device.ControllerEvent) {
	m, ok := stickChannel[ev.Input]
	if !ok || m.channel >= p.store.ChannelCount() {
		return
	}
	v := ev.Value
	if m.reversed {
		v = -v
	}
	rng := p.store.Range()
	target := rng.Min + (v+1)/2*rng.Span()

	snap := p.store.Snapshot()
	ch, _ := snap.Channel(m.channel)
	next, move := approach(ch.Position, target, snap.Speed)
	if !move {
		return
	}
	p.submit(ctx, models.SetChannel(m.channel, next))
}

// approach steps from current toward target. The step is the remaining
// distance scaled by the speed factor, whole degrees, at least one degree
// and never past the target.
func approach(current, target, speed float64) (float64, bool) {
	diff := target - current
	dist := math.Abs(diff)
	if dist < 1e-9 {
		return current, false
	}
	step := math.Max(1, math.Min(dist, math.Floor(dist*speed)))
	step = math.Min(step, dist)
	if diff < 0 {
		step = -step
	}
	return current + step, true
}

func (p *Poller) handleTrigger(ctx context.Context, ev device.ControllerEvent) {
	if ev.Value <= 0 {
		return
	}
	rng := p.store.Range()
	switch ev.Input {
	case device.InputLeftTrigger:
		p.submit(ctx, models.SetAllChannels(rng.Max-ev.Value*rng.Span()))
	case device.InputRightTrigger:
		p.submit(ctx, models.SetAllChannels(rng.Min+ev.Value*rng.Span()))
	}
}

func (p *Poller) handleHat(ctx context.Context, ev device.ControllerEvent) {
	n := p.store.ChannelCount()
	if ev.Value == 0 || n == 0 {
		return
	}
	switch ev.Input {
	case device.InputDPadX:
		p.focus = ((p.focus+int(ev.Value))%n + n) % n
	case device.InputDPadY:
		ch, _ := p.store.Snapshot().Channel(p.focus)
		// d-pad up reports -1
		pos, _ := p.store.Range().Clamp(ch.Position - ev.Value*p.cfg.NudgeStep)
		if pos == ch.Position {
			return
		}
		p.submit(ctx, models.SetChannel(p.focus, pos))
	}
}

func (p *Poller) handleButton(ctx context.Context, ev device.ControllerEvent) {
	if ch, ok := holdButton[ev.Input]; ok {
		if ch < p.store.ChannelCount() {
			p.submit(ctx, models.ToggleHold(ch))
		}
		return
	}
	switch ev.Input {
	case device.InputLB:
		p.submit(ctx, models.SetSpeed(stepSpeed(p.store.Speed(), -speedStep)))
	case device.InputRB:
		p.submit(ctx, models.SetSpeed(stepSpeed(p.store.Speed(), speedStep)))
	}
}

// stepSpeed adds delta and rounds to one decimal so repeated steps do not
// accumulate float error.
func stepSpeed(current, delta float64) float64 {
	v := math.Round((current+delta)*10) / 10
	return math.Min(math.Max(v, state.MinSpeed), state.MaxSpeed)
}

// Focus returns the channel the d-pad currently nudges.
func (p *Poller) Focus() int { return p.focus }
