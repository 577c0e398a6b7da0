// Package classifier turns a reading value and a threshold band into a verdict.
package classifier

import (
	"fmt"

	"github.com/tphakala/fieldwatch/internal/sensor"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

// Severity is ordered: Normal < Low < High < Critical
type Severity int

const (
	Normal Severity = iota
	Low
	High
	Critical
)

var severityNames = [...]string{"normal", "low", "high", "critical"}

func (s Severity) String() string {
	if s < Normal || s > Critical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity resolves a severity name
func ParseSeverity(name string) (Severity, bool) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), true
		}
	}
	return Normal, false
}

// MarshalText encodes the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name
func (s *Severity) UnmarshalText(b []byte) error {
	v, ok := ParseSeverity(string(b))
	if !ok {
		return fmt.Errorf("unknown severity %q", b)
	}
	*s = v
	return nil
}

// Direction says which side of the band a value fell on
type Direction string

const (
	None  Direction = "none"
	Below Direction = "below"
	Above Direction = "above"
)

// AlertType groups alerts by origin
type AlertType string

const (
	AlertThreshold   AlertType = "threshold"
	AlertSystem      AlertType = "system"
	AlertMaintenance AlertType = "maintenance"
	AlertBattery     AlertType = "battery"
	AlertSignal      AlertType = "signal"
)

// Valid reports whether t is a known alert type
func (t AlertType) Valid() bool {
	switch t {
	case AlertThreshold, AlertSystem, AlertMaintenance, AlertBattery, AlertSignal:
		return true
	}
	return false
}

// Verdict is the classification of one value
type Verdict struct {
	Severity  Severity  `json:"severity"`
	Direction Direction `json:"direction"`
}

// IsNormal reports whether the verdict needs no alert
func (v Verdict) IsNormal() bool {
	return v.Severity == Normal
}

func (v Verdict) String() string {
	if v.Direction == None {
		return v.Severity.String()
	}
	return v.Severity.String() + "/" + string(v.Direction)
}

// Classify places value in band. Exactly one branch applies:
//
//	value < critical.low             critical, below
//	critical.low <= value < min      low, below
//	min <= value <= max              normal
//	max < value <= critical.high     high, above
//	value > critical.high            critical, above
func Classify(value float64, band thresholds.Band) Verdict {
	switch {
	case value < band.Critical.Low:
		return Verdict{Severity: Critical, Direction: Below}
	case value < band.Min:
		return Verdict{Severity: Low, Direction: Below}
	case value <= band.Max:
		return Verdict{Severity: Normal, Direction: None}
	case value <= band.Critical.High:
		return Verdict{Severity: High, Direction: Above}
	default:
		return Verdict{Severity: Critical, Direction: Above}
	}
}

// AlertTypeFor maps a sensor type to the alert type its breaches raise
func AlertTypeFor(t sensor.Type) AlertType {
	switch t {
	case sensor.BatteryLevel:
		return AlertBattery
	case sensor.SignalStrength:
		return AlertSignal
	default:
		return AlertThreshold
	}
}

// Describe builds the human readable title and message for a breach,
// e.g. "Soil moisture is too low: 18% (min: 20%)".
func Describe(t sensor.Type, v Verdict, value float64, band thresholds.Band) (title, message string) {
	label := t.Label()
	switch v.Direction {
	case Below:
		limit := band.Min
		limitName := "min"
		if v.Severity == Critical {
			limit, limitName = band.Critical.Low, "critical low"
		}
		title = fmt.Sprintf("%s too low", label)
		message = fmt.Sprintf("%s is too low: %s (%s: %s)", label, t.Format(value), limitName, t.Format(limit))
	case Above:
		limit := band.Max
		limitName := "max"
		if v.Severity == Critical {
			limit, limitName = band.Critical.High, "critical high"
		}
		title = fmt.Sprintf("%s too high", label)
		message = fmt.Sprintf("%s is too high: %s (%s: %s)", label, t.Format(value), limitName, t.Format(limit))
	default:
		title = fmt.Sprintf("%s normal", label)
		message = fmt.Sprintf("%s is within range: %s", label, t.Format(value))
	}
	return title, message
}
