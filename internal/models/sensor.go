package models

import "time"

// Vec3 is a three-axis reading.
type Vec3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// SensorSnapshot is the most recent inertial reading. It is replaced
// wholesale on every successful sample and never mutated in place.
type SensorSnapshot struct {
	Accel Vec3      `json:"accel"` // g
	Gyro  Vec3      `json:"gyro"`  // deg/s
	Temp  float64   `json:"temp"`  // °C
	Valid bool      `json:"valid"`
	At    time.Time `json:"at"`
}

// Stale returns a copy of s marked invalid, keeping the last readings.
func (s SensorSnapshot) Stale() SensorSnapshot {
	s.Valid = false
	return s
}
