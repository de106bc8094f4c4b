package models

// DeviceStatus is the connectivity state of one device.
type DeviceStatus string

const (
	StatusConnected    DeviceStatus = "connected"
	StatusDisconnected DeviceStatus = "disconnected"
	StatusError        DeviceStatus = "error"
)

// DeviceKind identifies one of the bridged devices.
type DeviceKind string

const (
	DeviceActuator   DeviceKind = "actuator"
	DeviceSensor     DeviceKind = "sensor"
	DeviceController DeviceKind = "controller"
)

// AllDeviceKinds returns every device kind in display order.
func AllDeviceKinds() []DeviceKind {
	return []DeviceKind{DeviceActuator, DeviceSensor, DeviceController}
}

// DeviceStatuses maps each device to its current status.
type DeviceStatuses map[DeviceKind]DeviceStatus

// Clone returns an independent copy.
func (s DeviceStatuses) Clone() DeviceStatuses {
	out := make(DeviceStatuses, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
