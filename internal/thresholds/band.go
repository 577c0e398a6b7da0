// Package thresholds resolves the threshold band that applies to a sensor.
//
// Every sensor type has a built-in default band. Defaults can be replaced
// from configuration, and a single node can carry its own override. Reads
// are lock-free against an immutable snapshot; writers publish a new one.
package thresholds

import (
	"fmt"
	"math"

	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// ErrInvalidBand is returned when a band violates
// critical.low <= min < max <= critical.high.
var ErrInvalidBand = errors.NewStd("invalid threshold band")

// Critical holds the outer limits of a band
type Critical struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Band is the acceptable span for one sensor type. Values between Min and
// Max are normal, values beyond Critical are critical.
type Band struct {
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Critical Critical `json:"critical"`
}

// Validate checks the band ordering
func (b Band) Validate() error {
	for _, v := range []float64{b.Min, b.Max, b.Critical.Low, b.Critical.High} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: limits must be finite numbers", ErrInvalidBand)
		}
	}
	if b.Critical.Low > b.Min {
		return fmt.Errorf("%w: critical.low %v is above min %v", ErrInvalidBand, b.Critical.Low, b.Min)
	}
	if b.Min >= b.Max {
		return fmt.Errorf("%w: min %v must be below max %v", ErrInvalidBand, b.Min, b.Max)
	}
	if b.Max > b.Critical.High {
		return fmt.Errorf("%w: max %v is above critical.high %v", ErrInvalidBand, b.Max, b.Critical.High)
	}
	return nil
}

// builtinDefaults are the bands used when configuration provides none
var builtinDefaults = map[sensor.Type]Band{
	sensor.SoilMoisture:   {Min: 20, Max: 80, Critical: Critical{Low: 15, High: 85}},
	sensor.Temperature:    {Min: 10, Max: 35, Critical: Critical{Low: 5, High: 40}},
	sensor.Humidity:       {Min: 30, Max: 80, Critical: Critical{Low: 20, High: 90}},
	sensor.PH:             {Min: 5.5, Max: 7.5, Critical: Critical{Low: 5.0, High: 8.0}},
	sensor.Nutrients:      {Min: 100, Max: 2000, Critical: Critical{Low: 50, High: 3000}},
	sensor.Light:          {Min: 1000, Max: 80000, Critical: Critical{Low: 0, High: 95000}},
	sensor.BatteryLevel:   {Min: 20, Max: 100, Critical: Critical{Low: 10, High: 100}},
	sensor.SignalStrength: {Min: -100, Max: 0, Critical: Critical{Low: -110, High: 0}},
}

// DefaultBand returns the built-in band for t
func DefaultBand(t sensor.Type) (Band, bool) {
	b, ok := builtinDefaults[t]
	return b, ok
}

func invalidBand(err error, sensorID string, t sensor.Type, b Band) error {
	return errors.New(err).
		Component("thresholds").
		Category(errors.CategoryThreshold).
		SensorContext(sensorID, string(t)).
		Context("min", b.Min).
		Context("max", b.Max).
		Context("critical_low", b.Critical.Low).
		Context("critical_high", b.Critical.High).
		Build()
}

func unknownType(sensorID string, t sensor.Type) error {
	return errors.Newf("unknown sensor type %q", t).
		Component("thresholds").
		Category(errors.CategoryValidation).
		SensorContext(sensorID, string(t)).
		Build()
}
