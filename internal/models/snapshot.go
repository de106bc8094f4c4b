package models

import "time"

// Snapshot is a consistent point-in-time copy of all shared state.
type Snapshot struct {
	Channels []ActuatorChannel
	Sensor   SensorSnapshot
	Status   DeviceStatuses
	Speed    float64
	Seq      uint64
	At       time.Time
}

// Channel returns a copy of channel id, or false when out of range.
func (s Snapshot) Channel(id int) (ActuatorChannel, bool) {
	if id < 0 || id >= len(s.Channels) {
		return ActuatorChannel{}, false
	}
	return s.Channels[id], true
}

// MessageTypeSnapshot tags telemetry frames on the stream.
const MessageTypeSnapshot = "snapshot"

// Telemetry is the wire form of a snapshot pushed to stream clients.
type Telemetry struct {
	Type   string            `json:"type" msgpack:"type"`
	ID     string            `json:"id,omitempty" msgpack:"id,omitempty"` // set on get_status replies
	Servos []ActuatorChannel `json:"servos" msgpack:"servos"`
	Sensor TelemetrySensor   `json:"sensor" msgpack:"sensor"`
	Status TelemetryStatus   `json:"status" msgpack:"status"`
	Speed  float64           `json:"speed" msgpack:"speed"`
	Seq    uint64            `json:"seq" msgpack:"seq"`
	Time   int64             `json:"timestamp" msgpack:"timestamp"` // Unix ms
}

// TelemetrySensor is the sensor section of a telemetry frame.
type TelemetrySensor struct {
	Accel Vec3    `json:"accel" msgpack:"accel"`
	Gyro  Vec3    `json:"gyro" msgpack:"gyro"`
	Temp  float64 `json:"temp" msgpack:"temp"`
	Valid bool    `json:"valid" msgpack:"valid"`
}

// TelemetryStatus is the device status section of a telemetry frame.
type TelemetryStatus struct {
	Actuator   DeviceStatus `json:"actuator" msgpack:"actuator"`
	Sensor     DeviceStatus `json:"sensor" msgpack:"sensor"`
	Controller DeviceStatus `json:"controller" msgpack:"controller"`
}

// Telemetry converts the snapshot to its wire form.
func (s Snapshot) Telemetry() Telemetry {
	servos := make([]ActuatorChannel, len(s.Channels))
	copy(servos, s.Channels)
	return Telemetry{
		Type:   MessageTypeSnapshot,
		Servos: servos,
		Sensor: TelemetrySensor{
			Accel: s.Sensor.Accel,
			Gyro:  s.Sensor.Gyro,
			Temp:  s.Sensor.Temp,
			Valid: s.Sensor.Valid,
		},
		Status: TelemetryStatus{
			Actuator:   s.Status[DeviceActuator],
			Sensor:     s.Status[DeviceSensor],
			Controller: s.Status[DeviceController],
		},
		Speed: s.Speed,
		Seq:   s.Seq,
		Time:  s.At.UnixMilli(),
	}
}
