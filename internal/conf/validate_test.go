package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"zero hysteresis", func(s *Settings) { s.Engine.Hysteresis = 0 }, "engine.hysteresis"},
		{"negative skew", func(s *Settings) { s.Engine.ClockSkew = -1 }, "engine.clockskew"},
		{"unknown sensor type", func(s *Settings) {
			s.Thresholds = map[string]BandSettings{"co2": {Min: 1, Max: 2, CriticalLow: 0, CriticalHigh: 3}}
		}, "thresholds.co2"},
		{"inverted band", func(s *Settings) {
			s.Thresholds = map[string]BandSettings{"ph": {Min: 7.5, Max: 5.5, CriticalLow: 5, CriticalHigh: 8}}
		}, "thresholds.ph"},
		{"valid band", func(s *Settings) {
			s.Thresholds = map[string]BandSettings{"ph": {Min: 5.5, Max: 7.5, CriticalLow: 5.5, CriticalHigh: 8}}
		}, ""},
		{"bad overflow", func(s *Settings) { s.Fanout.Overflow = "block" }, "fanout.overflow"},
		{"bad driver", func(s *Settings) { s.History.Driver = "postgres" }, "history.driver"},
		{"mysql needs dsn", func(s *Settings) { s.History.Driver = DriverMySQL }, "history.dsn"},
		{"influx needs bucket", func(s *Settings) { s.Influx.Enabled = true; s.Influx.Bucket = "" }, "influx.url"},
		{"mqtt qos", func(s *Settings) { s.MQTT.Enabled = true; s.MQTT.QoS = 3 }, "mqtt.qos"},
		{"push needs urls", func(s *Settings) { s.Push.Enabled = true }, "push.urls"},
		{"push severity", func(s *Settings) {
			s.Push.Enabled = true
			s.Push.URLs = []string{"generic://example.com"}
			s.Push.MinSeverity = "normal"
		}, "push.minseverity"},
		{"sentry needs dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
		{"firmware channel", func(s *Settings) { s.Maintenance.Firmware.Channel = "nightly" }, "maintenance.firmware.channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := Defaults()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidationErrorCollectsAll(t *testing.T) {
	t.Parallel()

	s := Defaults()
	s.Engine.Hysteresis = 0
	s.Fanout.QueueSize = 0

	err := ValidateSettings(s)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}
