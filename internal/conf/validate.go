package conf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tphakala/fieldwatch/internal/sensor"
)

// ValidationError collects every problem found in a Settings tree
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateEngineSettings,
		validateThresholdSettings,
		validateMaintenanceSettings,
		validateFanoutSettings,
		validateHistorySettings,
		validateInfluxSettings,
		validateMQTTSettings,
		validatePushSettings,
		validateListenerSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateEngineSettings(s *Settings) []string {
	var errs []string
	e := s.Engine

	if e.ClockSkew < 0 {
		errs = append(errs, "engine.clockskew must not be negative")
	}
	if e.Hysteresis < 1 {
		errs = append(errs, "engine.hysteresis must be at least 1")
	}
	if e.Cooldown.Low < 0 || e.Cooldown.High < 0 || e.Cooldown.Critical < 0 {
		errs = append(errs, "engine.cooldown values must not be negative")
	}
	if e.Retention <= 0 {
		errs = append(errs, "engine.retention must be positive")
	}
	if e.CleanupInterval <= 0 {
		errs = append(errs, "engine.cleanupinterval must be positive")
	}
	return errs
}

// validateThresholdSettings checks type names and the band ordering
// criticalLow <= min < max <= criticalHigh
func validateThresholdSettings(s *Settings) []string {
	var errs []string
	for name, band := range s.Thresholds {
		if _, ok := sensor.ParseType(name); !ok {
			errs = append(errs, fmt.Sprintf("thresholds.%s: unknown sensor type", name))
			continue
		}
		if band.CriticalLow > band.Min || band.Min >= band.Max || band.Max > band.CriticalHigh {
			errs = append(errs, fmt.Sprintf("thresholds.%s: band must satisfy criticallow <= min < max <= criticalhigh", name))
		}
	}
	slices.Sort(errs)
	return errs
}

func validateMaintenanceSettings(s *Settings) []string {
	var errs []string
	m := s.Maintenance

	if m.Calibration <= 0 || m.Cleaning <= 0 || m.BatteryCheck <= 0 || m.FirmwareUpdate <= 0 {
		errs = append(errs, "maintenance intervals must be positive")
	}
	if !slices.Contains([]string{"stable", "beta", "dev"}, m.Firmware.Channel) {
		errs = append(errs, fmt.Sprintf("maintenance.firmware.channel %q must be stable, beta or dev", m.Firmware.Channel))
	}
	return errs
}

func validateFanoutSettings(s *Settings) []string {
	var errs []string
	f := s.Fanout

	if f.QueueSize < 1 {
		errs = append(errs, "fanout.queuesize must be at least 1")
	}
	if f.DeliveryTimeout <= 0 {
		errs = append(errs, "fanout.deliverytimeout must be positive")
	}
	if f.MaxDeliveryFailures < 1 {
		errs = append(errs, "fanout.maxdeliveryfailures must be at least 1")
	}
	if f.Overflow != OverflowDisconnect && f.Overflow != OverflowDropOldest {
		errs = append(errs, fmt.Sprintf("fanout.overflow %q must be %s or %s", f.Overflow, OverflowDisconnect, OverflowDropOldest))
	}
	return errs
}

func validateHistorySettings(s *Settings) []string {
	var errs []string
	h := s.History

	switch h.Driver {
	case DriverSQLite:
		if h.Path == "" {
			errs = append(errs, "history.path is required for the sqlite driver")
		}
	case DriverMySQL:
		if h.DSN == "" {
			errs = append(errs, "history.dsn is required for the mysql driver")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("history.driver %q must be sqlite, mysql or memory", h.Driver))
	}

	if h.QueueSize < 1 {
		errs = append(errs, "history.queuesize must be at least 1")
	}
	if h.BacklogSize < 0 {
		errs = append(errs, "history.backlogsize must not be negative")
	}
	if h.AppendTimeout <= 0 {
		errs = append(errs, "history.appendtimeout must be positive")
	}
	if h.Retry.MaxAttempts < 1 {
		errs = append(errs, "history.retry.maxattempts must be at least 1")
	}
	if h.Retry.InitialInterval <= 0 {
		errs = append(errs, "history.retry.initialinterval must be positive")
	}
	if h.Breaker.ConsecutiveFailures < 1 {
		errs = append(errs, "history.breaker.consecutivefailures must be at least 1")
	}
	return errs
}

func validateInfluxSettings(s *Settings) []string {
	i := s.Influx
	if !i.Enabled {
		return nil
	}
	var errs []string
	if i.URL == "" || i.Org == "" || i.Bucket == "" {
		errs = append(errs, "influx.url, influx.org and influx.bucket are required when influx is enabled")
	}
	return errs
}

func validateMQTTSettings(s *Settings) []string {
	m := s.MQTT
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if strings.Trim(m.TopicPrefix, "/") == "" {
		errs = append(errs, "mqtt.topicprefix must not be empty")
	}
	if m.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1 or 2")
	}
	return errs
}

func validatePushSettings(s *Settings) []string {
	p := s.Push
	if !p.Enabled {
		return nil
	}
	var errs []string
	if len(p.URLs) == 0 {
		errs = append(errs, "push.urls must contain at least one URL when push is enabled")
	}
	if !slices.Contains([]string{"low", "high", "critical"}, p.MinSeverity) {
		errs = append(errs, fmt.Sprintf("push.minseverity %q must be low, high or critical", p.MinSeverity))
	}
	if p.Rate <= 0 {
		errs = append(errs, "push.rate must be positive")
	}
	if p.Burst < 1 {
		errs = append(errs, "push.burst must be at least 1")
	}
	return errs
}

func validateListenerSettings(s *Settings) []string {
	var errs []string
	if s.WebServer.Enabled && s.WebServer.Listen == "" {
		errs = append(errs, "webserver.listen is required when the webserver is enabled")
	}
	if s.Telemetry.Enabled && s.Telemetry.Listen == "" {
		errs = append(errs, "telemetry.listen is required when telemetry is enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn is required when sentry is enabled")
	}
	return errs
}
