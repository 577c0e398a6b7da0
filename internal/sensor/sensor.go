// Package sensor holds the sensor type catalogue and reading validation.
package sensor

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// Type identifies what a reading measures
type Type string

const (
	SoilMoisture   Type = "soilMoisture"
	Temperature    Type = "temperature"
	Humidity       Type = "humidity"
	PH             Type = "ph"
	Nutrients      Type = "nutrients"
	Light          Type = "light"
	BatteryLevel   Type = "batteryLevel"   // synthetic channel carried on every reading
	SignalStrength Type = "signalStrength" // synthetic channel carried on every reading
)

// Range is the physically valid span of a sensor type
type Range struct {
	Min       float64
	Max       float64
	Unit      string
	Precision int // decimals shown in messages
}

// Contains reports whether v lies within the closed range
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

var ranges = map[Type]Range{
	SoilMoisture:   {Min: 0, Max: 100, Unit: "%", Precision: 1},
	Temperature:    {Min: -50, Max: 100, Unit: "°C", Precision: 1},
	Humidity:       {Min: 0, Max: 100, Unit: "%", Precision: 1},
	PH:             {Min: 0, Max: 14, Unit: "pH", Precision: 2},
	Nutrients:      {Min: 0, Max: 5000, Unit: "ppm", Precision: 0},
	Light:          {Min: 0, Max: 100000, Unit: "lux", Precision: 0},
	BatteryLevel:   {Min: 0, Max: 100, Unit: "%", Precision: 1},
	SignalStrength: {Min: -120, Max: 0, Unit: "dBm", Precision: 1},
}

var labels = map[Type]string{
	SoilMoisture:   "Soil moisture",
	Temperature:    "Temperature",
	Humidity:       "Humidity",
	PH:             "pH",
	Nutrients:      "Nutrients",
	Light:          "Light",
	BatteryLevel:   "Battery level",
	SignalStrength: "Signal strength",
}

// Types returns every known sensor type in a stable order
func Types() []Type {
	types := make([]Type, 0, len(ranges))
	for t := range ranges {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// RangeFor returns the valid range of t
func RangeFor(t Type) (Range, bool) {
	r, ok := ranges[t]
	return r, ok
}

// ParseType resolves a sensor type name case-insensitively.
// Config keys arrive lower-cased from viper, so "soilmoisture" must resolve.
func ParseType(name string) (Type, bool) {
	for t := range ranges {
		if strings.EqualFold(string(t), name) {
			return t, true
		}
	}
	return "", false
}

// Valid reports whether t is a known sensor type
func (t Type) Valid() bool {
	_, ok := ranges[t]
	return ok
}

// Label returns the human readable name used in alert titles
func (t Type) Label() string {
	if l, ok := labels[t]; ok {
		return l
	}
	return string(t)
}

// Format renders v with the type's precision and unit, e.g. "18%" or "6.80 pH"
func (t Type) Format(v float64) string {
	r, ok := ranges[t]
	if !ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	prec := r.Precision
	// whole numbers read better without a trailing ".0"
	if prec == 1 && v == math.Trunc(v) {
		prec = 0
	}
	s := strconv.FormatFloat(v, 'f', prec, 64)

	switch r.Unit {
	case "%", "°C":
		return s + r.Unit
	default:
		return s + " " + r.Unit
	}
}
