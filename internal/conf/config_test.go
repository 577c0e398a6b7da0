package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldwatch/internal/errors"
)

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	s := Defaults()
	require.NoError(t, ValidateSettings(s))

	assert.Equal(t, 30*time.Second, s.Engine.ClockSkew)
	assert.Equal(t, 3, s.Engine.Hysteresis)
	assert.Equal(t, 30*time.Minute, s.Engine.Cooldown.Low)
	assert.Equal(t, 10*time.Minute, s.Engine.Cooldown.High)
	assert.Equal(t, 2*time.Minute, s.Engine.Cooldown.Critical)
	assert.Equal(t, 30*24*time.Hour, s.Engine.Retention)
	assert.Equal(t, 256, s.Fanout.QueueSize)
	assert.Equal(t, OverflowDisconnect, s.Fanout.Overflow)
	assert.Equal(t, 1024, s.History.QueueSize)
	assert.Equal(t, 5, s.History.Retry.MaxAttempts)
	assert.Equal(t, "stable", s.Maintenance.Firmware.Channel)
	require.NotNil(t, s.Logging.Console)
	assert.True(t, s.Logging.Console.Enabled)
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	s, err := Load(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "fieldwatch", s.Main.Name)
	assert.Equal(t, 10*time.Minute, s.Engine.Cooldown.High)
	assert.Same(t, s, GetSettings())
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
main:
  name: greenhouse-3
engine:
  hysteresis: 5
  cooldown:
    low: 1h
thresholds:
  soilMoisture:
    min: 25
    max: 70
    criticallow: 10
    criticalhigh: 90
history:
  driver: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("FIELDWATCH_FANOUT_QUEUESIZE", "32")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "greenhouse-3", s.Main.Name)
	assert.Equal(t, 5, s.Engine.Hysteresis)
	assert.Equal(t, time.Hour, s.Engine.Cooldown.Low)
	assert.Equal(t, 2*time.Minute, s.Engine.Cooldown.Critical, "unset keys keep defaults")
	assert.Equal(t, DriverMemory, s.History.Driver)
	assert.Equal(t, 32, s.Fanout.QueueSize)

	// viper lower-cases map keys
	band, ok := s.Thresholds["soilmoisture"]
	require.True(t, ok)
	assert.InDelta(t, 25.0, band.Min, 0)
	assert.InDelta(t, 90.0, band.CriticalHigh, 0)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fanout:\n  overflow: block\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "fanout.overflow")
}

func TestDefaultConfigYAMLRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data, err := DefaultConfigYAML()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults().History, s.History)
	assert.Equal(t, Defaults().Engine, s.Engine)
}
