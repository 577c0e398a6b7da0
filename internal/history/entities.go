package history

import (
	"time"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/classifier"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// AlertEntity is the latest snapshot of one alert
type AlertEntity struct {
	ID              string         `gorm:"primaryKey;size:36"`
	SensorID        string         `gorm:"size:50;not null;index:idx_alerts_sensor_type"`
	AlertType       string         `gorm:"size:16;not null;index:idx_alerts_sensor_type"`
	SensorType      string         `gorm:"size:32"`
	Severity        int            `gorm:"not null;index"`
	Direction       string         `gorm:"size:8;not null"`
	Value           float64        `gorm:"not null"`
	Title           string         `gorm:"size:200"`
	Message         string         `gorm:"size:500"`
	OpenedAt        time.Time      `gorm:"not null;index"`
	LastSeenAt      time.Time      `gorm:"not null"`
	Status          string         `gorm:"size:16;not null;index"`
	StatusChangedAt time.Time      `gorm:"index"`
	StatusNote      string         `gorm:"size:500"`
	OccurrenceCount int            `gorm:"not null"`
	IsRead          bool           `gorm:"not null;index"`
	Actions         []alert.Action `gorm:"serializer:json;type:text"`
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (AlertEntity) TableName() string {
	return "alerts"
}

// AlertEventEntity is one published lifecycle event
type AlertEventEntity struct {
	ID        string    `gorm:"primaryKey;size:36"`
	AlertID   string    `gorm:"size:36;not null;index"`
	Type      string    `gorm:"size:16;not null"`
	Severity  int       `gorm:"not null"`
	Status    string    `gorm:"size:16;not null"`
	Timestamp time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM.
func (AlertEventEntity) TableName() string {
	return "alert_events"
}

// ReadingEntity is one accepted reading
type ReadingEntity struct {
	ID             uint      `gorm:"primaryKey"`
	SensorID       string    `gorm:"size:50;not null;index:idx_readings_sensor_time"`
	SensorType     string    `gorm:"size:32;not null"`
	Value          float64   `gorm:"not null"`
	Unit           string    `gorm:"size:8"`
	Timestamp      time.Time `gorm:"not null;index:idx_readings_sensor_time"`
	BatteryLevel   *float64
	SignalStrength *float64
}

// TableName returns the table name for GORM.
func (ReadingEntity) TableName() string {
	return "sensor_readings"
}

func toAlertEntity(a *alert.Alert) AlertEntity {
	return AlertEntity{
		ID:              a.ID,
		SensorID:        a.SensorID,
		AlertType:       string(a.AlertType),
		SensorType:      string(a.SensorType),
		Severity:        int(a.Severity),
		Direction:       string(a.Direction),
		Value:           a.Value,
		Title:           a.Title,
		Message:         a.Message,
		OpenedAt:        a.OpenedAt.UTC(),
		LastSeenAt:      a.LastSeenAt.UTC(),
		Status:          string(a.Status),
		StatusChangedAt: a.StatusChangedAt.UTC(),
		StatusNote:      a.StatusNote,
		OccurrenceCount: a.OccurrenceCount,
		IsRead:          a.IsRead,
		Actions:         a.Actions,
	}
}

func (e *AlertEntity) toAlert() alert.Alert {
	return alert.Alert{
		ID:              e.ID,
		SensorID:        e.SensorID,
		AlertType:       classifier.AlertType(e.AlertType),
		SensorType:      sensor.Type(e.SensorType),
		Severity:        classifier.Severity(e.Severity),
		Direction:       classifier.Direction(e.Direction),
		Value:           e.Value,
		Title:           e.Title,
		Message:         e.Message,
		OpenedAt:        e.OpenedAt.UTC(),
		LastSeenAt:      e.LastSeenAt.UTC(),
		Status:          alert.Status(e.Status),
		StatusChangedAt: e.StatusChangedAt.UTC(),
		StatusNote:      e.StatusNote,
		OccurrenceCount: e.OccurrenceCount,
		IsRead:          e.IsRead,
		Actions:         normalizeActions(e.Actions),
	}
}

func normalizeActions(actions []alert.Action) []alert.Action {
	for i := range actions {
		actions[i].At = actions[i].At.UTC()
	}
	return actions
}

func toEventEntity(ev *alert.Event) AlertEventEntity {
	return AlertEventEntity{
		ID:        ev.ID,
		AlertID:   ev.Alert.ID,
		Type:      string(ev.Type),
		Severity:  int(ev.Alert.Severity),
		Status:    string(ev.Alert.Status),
		Timestamp: ev.Timestamp.UTC(),
	}
}

func toReadingEntity(r *sensor.Reading) ReadingEntity {
	return ReadingEntity{
		SensorID:       r.SensorID,
		SensorType:     string(r.SensorType),
		Value:          r.Value,
		Unit:           r.Unit,
		Timestamp:      r.Timestamp.UTC(),
		BatteryLevel:   r.BatteryLevel,
		SignalStrength: r.SignalStrength,
	}
}
