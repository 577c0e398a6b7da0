// Package alert owns the alert state machine.
//
// An alert is keyed by (sensorId, alertType, direction) and at most one
// alert per key is open or acknowledged at a time. Every mutation of one
// alert runs under that key's lock, and the resulting events are published
// before the lock is released, so observers see per-alert causal order.
package alert

import (
	"slices"
	"time"

	"github.com/tphakala/fieldwatch/internal/classifier"
	"github.com/tphakala/fieldwatch/internal/dedup"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// Key is the uniqueness tuple of an open alert
type Key = dedup.Key

// Status of an alert
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

// IsOpen reports whether the alert still counts against its key
func (s Status) IsOpen() bool {
	return s == StatusOpen || s == StatusAcknowledged
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s.IsOpen() || s.IsTerminal()
}

// ActionType names an entry in the action log
type ActionType string

const (
	ActionAcknowledge ActionType = "acknowledge"
	ActionResolve     ActionType = "resolve"
	ActionDismiss     ActionType = "dismiss"
	ActionEscalate    ActionType = "escalate"
	ActionAutoResolve ActionType = "auto-resolve"
)

// AutoResolveNote is the status note of hysteresis resolutions
const AutoResolveNote = "auto-resolved"

// Action is one entry of an alert's action log
type Action struct {
	Action ActionType `json:"action"`
	Note   string     `json:"note,omitempty"`
	At     time.Time  `json:"at"`
}

// Alert is a stateful alert record. Values handed out by the manager are
// snapshots and may be kept by the receiver.
type Alert struct {
	ID              string               `json:"id"`
	SensorID        string               `json:"sensorId"`
	AlertType       classifier.AlertType `json:"alertType"`
	SensorType      sensor.Type          `json:"sensorType,omitempty"`
	Severity        classifier.Severity  `json:"severity"`
	Direction       classifier.Direction `json:"direction"`
	Value           float64              `json:"value"`
	Title           string               `json:"title"`
	Message         string               `json:"message"`
	OpenedAt        time.Time            `json:"openedAt"`
	LastSeenAt      time.Time            `json:"lastSeenAt"`
	Status          Status               `json:"status"`
	StatusChangedAt time.Time            `json:"statusChangedAt"`
	StatusNote      string               `json:"statusNote,omitempty"`
	OccurrenceCount int                  `json:"occurrenceCount"`
	IsRead          bool                 `json:"isRead"`
	Actions         []Action             `json:"actions"`
}

// Key returns the alert's uniqueness tuple
func (a *Alert) Key() Key {
	return Key{SensorID: a.SensorID, AlertType: a.AlertType, Direction: a.Direction}
}

// Clone returns a deep copy
func (a *Alert) Clone() *Alert {
	c := *a
	c.Actions = slices.Clone(a.Actions)
	return &c
}

// EventType names a lifecycle event
type EventType string

const (
	EventCreated      EventType = "created"
	EventEscalated    EventType = "escalated"
	EventAcknowledged EventType = "acknowledged"
	EventResolved     EventType = "resolved"
	EventDismissed    EventType = "dismissed"
	EventUpdated      EventType = "updated" // repeated breach after the cooldown
	EventRead         EventType = "read"
)

// Event is a published lifecycle change carrying a snapshot of the alert.
// Observers deduplicate on (Alert.ID, Type, Timestamp).
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Alert     Alert     `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifies reports whether the event is a user-facing notification
// rather than bookkeeping.
func (e Event) Notifies() bool {
	switch e.Type {
	case EventCreated, EventEscalated, EventUpdated:
		return true
	}
	return false
}
