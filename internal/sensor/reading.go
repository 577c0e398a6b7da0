package sensor

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/tphakala/fieldwatch/internal/errors"
)

// DefaultClockSkew is how far in the future a reading timestamp may be
const DefaultClockSkew = 30 * time.Second

var sensorIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// Reading is one measurement from a sensor node. Values are immutable
// once created; Validate returns a normalised copy.
type Reading struct {
	SensorID       string    `json:"sensorId"`
	SensorType     Type      `json:"sensorType"`
	Value          float64   `json:"value"`
	Unit           string    `json:"unit,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	BatteryLevel   *float64  `json:"batteryLevel,omitempty"`
	SignalStrength *float64  `json:"signalStrength,omitempty"`
}

// ValidatedReading is a Reading that passed Validate. Only validated
// readings are classified.
type ValidatedReading struct {
	Reading
}

// RejectReason says why a reading was rejected
type RejectReason string

const (
	ReasonOutOfRange       RejectReason = "out_of_range"
	ReasonFutureTimestamp  RejectReason = "future_timestamp"
	ReasonUnitMismatch     RejectReason = "unit_mismatch"
	ReasonUnknownType      RejectReason = "unknown_type"
	ReasonInvalidSensorID  RejectReason = "invalid_sensor_id"
	ReasonMissingTimestamp RejectReason = "missing_timestamp"
)

// RejectError carries the reject reason inside an EnhancedError chain
type RejectError struct {
	Reason RejectReason
	Field  string
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("reading rejected (%s): %s", e.Reason, e.Detail)
}

// ErrorCategory marks every rejection as a validation error
func (e *RejectError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

// ReasonOf extracts the reject reason from err, or "" if err is not a rejection
func ReasonOf(err error) RejectReason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// Validate checks r against the sensor catalogue. It is pure: the same
// reading, now and skew always give the same result.
func Validate(r Reading, now time.Time, skew time.Duration) (ValidatedReading, error) {
	if !sensorIDPattern.MatchString(r.SensorID) {
		return ValidatedReading{}, reject(r, ReasonInvalidSensorID, "sensorId",
			"sensor id must be 3-50 characters of letters, digits, '_' or '-'")
	}

	rng, ok := RangeFor(r.SensorType)
	if !ok {
		return ValidatedReading{}, reject(r, ReasonUnknownType, "sensorType",
			fmt.Sprintf("unknown sensor type %q", r.SensorType))
	}

	switch {
	case r.Unit == "":
		r.Unit = rng.Unit
	case r.Unit != rng.Unit:
		return ValidatedReading{}, reject(r, ReasonUnitMismatch, "unit",
			fmt.Sprintf("unit %q does not match %s for %s", r.Unit, rng.Unit, r.SensorType))
	}

	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) || !rng.Contains(r.Value) {
		return ValidatedReading{}, reject(r, ReasonOutOfRange, "value",
			fmt.Sprintf("value %v outside [%v, %v]", r.Value, rng.Min, rng.Max))
	}

	if r.Timestamp.IsZero() {
		return ValidatedReading{}, reject(r, ReasonMissingTimestamp, "timestamp", "timestamp is required")
	}
	if r.Timestamp.After(now.Add(skew)) {
		return ValidatedReading{}, reject(r, ReasonFutureTimestamp, "timestamp",
			fmt.Sprintf("timestamp %s is more than %s ahead of server time", r.Timestamp.Format(time.RFC3339), skew))
	}

	if err := checkChannel(r, BatteryLevel, r.BatteryLevel, "batteryLevel"); err != nil {
		return ValidatedReading{}, err
	}
	if err := checkChannel(r, SignalStrength, r.SignalStrength, "signalStrength"); err != nil {
		return ValidatedReading{}, err
	}

	return ValidatedReading{Reading: r}, nil
}

func checkChannel(r Reading, t Type, v *float64, field string) error {
	if v == nil {
		return nil
	}
	rng := ranges[t]
	if math.IsNaN(*v) || math.IsInf(*v, 0) || !rng.Contains(*v) {
		return reject(r, ReasonOutOfRange, field,
			fmt.Sprintf("%s %v outside [%v, %v]", field, *v, rng.Min, rng.Max))
	}
	return nil
}

func reject(r Reading, reason RejectReason, field, detail string) error {
	return errors.New(&RejectError{Reason: reason, Field: field, Detail: detail}).
		Component("sensor").
		Category(errors.CategoryValidation).
		SensorContext(r.SensorID, string(r.SensorType)).
		Context("reason", string(reason)).
		Context("field", field).
		Build()
}

// Channels returns the synthetic channel readings carried by a validated
// reading, each as its own validated reading of the channel type.
func (v ValidatedReading) Channels() []ValidatedReading {
	var out []ValidatedReading
	if v.BatteryLevel != nil && v.SensorType != BatteryLevel {
		out = append(out, v.channel(BatteryLevel, *v.BatteryLevel))
	}
	if v.SignalStrength != nil && v.SensorType != SignalStrength {
		out = append(out, v.channel(SignalStrength, *v.SignalStrength))
	}
	return out
}

func (v ValidatedReading) channel(t Type, value float64) ValidatedReading {
	return ValidatedReading{Reading: Reading{
		SensorID:   v.SensorID,
		SensorType: t,
		Value:      value,
		Unit:       ranges[t].Unit,
		Timestamp:  v.Timestamp,
	}}
}
