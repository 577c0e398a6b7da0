package engine

import (
	"time"

	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/dedup"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/fanout"
	"github.com/tphakala/fieldwatch/internal/history"
	"github.com/tphakala/fieldwatch/internal/sensor"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

// Config collects the settings of every component the engine owns
type Config struct {
	ClockSkew       time.Duration
	Hysteresis      int
	Cooldowns       dedup.Cooldowns
	DedupCleanup    time.Duration // go-cache janitor interval, zero disables it
	Retention       time.Duration
	CleanupInterval time.Duration
	RestoreOnStart  bool
	Fanout          fanout.Config
	Writer          history.WriterConfig
}

// DefaultConfig returns the built-in engine settings
func DefaultConfig() Config {
	return Config{
		ClockSkew:       sensor.DefaultClockSkew,
		Hysteresis:      3,
		Cooldowns:       dedup.DefaultCooldowns(),
		DedupCleanup:    10 * time.Minute,
		Retention:       30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RestoreOnStart:  true,
		Fanout:          fanout.DefaultConfig(),
		Writer:          history.DefaultWriterConfig(),
	}
}

// ConfigFrom maps validated settings onto an engine config
func ConfigFrom(s *conf.Settings) Config {
	c := DefaultConfig()
	c.ClockSkew = s.Engine.ClockSkew
	c.Hysteresis = s.Engine.Hysteresis
	c.Cooldowns = dedup.Cooldowns{
		Low:      s.Engine.Cooldown.Low,
		High:     s.Engine.Cooldown.High,
		Critical: s.Engine.Cooldown.Critical,
	}
	c.Retention = s.Engine.Retention
	c.CleanupInterval = s.Engine.CleanupInterval
	c.RestoreOnStart = s.Engine.RestoreOnStart
	c.Fanout = fanout.Config{
		QueueSize:           s.Fanout.QueueSize,
		DeliveryTimeout:     s.Fanout.DeliveryTimeout,
		MaxDeliveryFailures: s.Fanout.MaxDeliveryFailures,
		Overflow:            fanout.OverflowPolicy(s.Fanout.Overflow),
	}
	c.Writer = history.WriterConfigFrom(s.History)
	return c
}

// BuildRegistry creates a threshold registry with the configured default
// bands and maintenance policy applied over the built-in ones.
func BuildRegistry(s *conf.Settings, opts ...thresholds.Option) (*thresholds.Registry, error) {
	r := thresholds.NewRegistry(opts...)

	for name, b := range s.Thresholds {
		t, ok := sensor.ParseType(name)
		if !ok {
			return nil, errors.Newf("unknown sensor type %q in thresholds", name).
				Component("engine").
				Category(errors.CategoryConfiguration).
				Build()
		}
		band := thresholds.Band{
			Min:      b.Min,
			Max:      b.Max,
			Critical: thresholds.Critical{Low: b.CriticalLow, High: b.CriticalHigh},
		}
		if err := r.SetDefault(t, band); err != nil {
			return nil, err
		}
	}

	policy := thresholds.DefaultPolicy()
	m := s.Maintenance
	for task, d := range map[thresholds.MaintenanceTask]time.Duration{
		thresholds.TaskCalibration:    m.Calibration,
		thresholds.TaskCleaning:       m.Cleaning,
		thresholds.TaskBatteryCheck:   m.BatteryCheck,
		thresholds.TaskFirmwareUpdate: m.FirmwareUpdate,
	} {
		if d > 0 {
			policy.Intervals[task] = d
		}
	}
	if m.Firmware.Channel != "" {
		policy.Firmware = thresholds.FirmwarePolicy{
			Channel:       m.Firmware.Channel,
			CheckInterval: m.Firmware.CheckInterval,
			AutoUpdate:    m.Firmware.AutoUpdate,
		}
	}
	r.SetPolicy(policy)
	return r, nil
}
