package model

import "time"

type EventKind string

const (
	EventStarted    EventKind = "started"
	EventStopped    EventKind = "stopped"
	EventReconciled EventKind = "reconciled"
)

type EventReason string

const (
	ReasonPolicy  EventReason = "policy"
	ReasonCommand EventReason = "command"
	ReasonTimeout EventReason = "timeout"
	ReasonRemote  EventReason = "remote"
)

// WateringEvent describes one transition of the pump.
type WateringEvent struct {
	CycleID    string
	DeviceID   string
	Kind       EventKind
	Reason     EventReason
	PumpActive bool
	Duration   time.Duration
	Ran        time.Duration // how long the cycle ran, set on stop
	At         time.Time
}
