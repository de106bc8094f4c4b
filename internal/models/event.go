package models

import "time"

// EventKind classifies journal entries.
type EventKind string

const (
	EventCommand      EventKind = "command"
	EventClamp        EventKind = "clamp"
	EventRejected     EventKind = "rejected"
	EventHold         EventKind = "hold"
	EventSpeed        EventKind = "speed"
	EventDeviceStatus EventKind = "device_status"
	EventClient       EventKind = "client"
)

// Event is one journal record.
type Event struct {
	ID      int64     `json:"id"`
	Time    time.Time `json:"timestamp"`
	Kind    EventKind `json:"type"`
	Source  Source    `json:"source,omitempty"`
	Action  Action    `json:"action,omitempty"`
	Channel *int      `json:"channel,omitempty"`
	Value   *float64  `json:"value,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}
