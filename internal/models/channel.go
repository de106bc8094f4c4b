// Package models contains domain types for the servo bridge.
package models

// ActuatorChannel is one PWM output of the actuator bank.
type ActuatorChannel struct {
	ID       int     `json:"channel" msgpack:"channel"`
	Position float64 `json:"position" msgpack:"position"` // degrees
	Held     bool    `json:"hold" msgpack:"hold"`
}

// Range bounds channel positions in degrees.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultRange is the travel of a standard hobby servo.
var DefaultRange = Range{Min: 0, Max: 180}

// Clamp bounds v to the range and reports whether it had to.
func (r Range) Clamp(v float64) (float64, bool) {
	switch {
	case v < r.Min:
		return r.Min, true
	case v > r.Max:
		return r.Max, true
	}
	return v, false
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Span returns the width of the range.
func (r Range) Span() float64 {
	return r.Max - r.Min
}
