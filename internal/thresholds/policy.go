package thresholds

import (
	"maps"
	"time"
)

// MaintenanceTask names a periodic maintenance duty
type MaintenanceTask string

const (
	TaskCalibration    MaintenanceTask = "calibration"
	TaskCleaning       MaintenanceTask = "cleaning"
	TaskBatteryCheck   MaintenanceTask = "batteryCheck"
	TaskFirmwareUpdate MaintenanceTask = "firmwareUpdate"
)

// FirmwarePolicy is the update policy handed to sensor nodes
type FirmwarePolicy struct {
	Channel       string        `json:"channel"`
	CheckInterval time.Duration `json:"checkInterval"`
	AutoUpdate    bool          `json:"autoUpdate"`
}

// Policy holds maintenance intervals and firmware policy
type Policy struct {
	Intervals map[MaintenanceTask]time.Duration `json:"intervals"`
	Firmware  FirmwarePolicy                    `json:"firmware"`
}

// DefaultPolicy returns the built-in maintenance policy
func DefaultPolicy() Policy {
	const day = 24 * time.Hour
	return Policy{
		Intervals: map[MaintenanceTask]time.Duration{
			TaskCalibration:    90 * day,
			TaskCleaning:       30 * day,
			TaskBatteryCheck:   7 * day,
			TaskFirmwareUpdate: 180 * day,
		},
		Firmware: FirmwarePolicy{
			Channel:       "stable",
			CheckInterval: day,
			AutoUpdate:    false,
		},
	}
}

// Interval returns the interval for task, or false for an unknown task
func (p Policy) Interval(task MaintenanceTask) (time.Duration, bool) {
	d, ok := p.Intervals[task]
	return d, ok && d > 0
}

// Overdue reports whether task last done at lastDone is overdue at now
func (p Policy) Overdue(task MaintenanceTask, lastDone, now time.Time) bool {
	interval, ok := p.Interval(task)
	if !ok {
		return false
	}
	return now.Sub(lastDone) > interval
}

func (p Policy) clone() Policy {
	p.Intervals = maps.Clone(p.Intervals)
	return p
}
