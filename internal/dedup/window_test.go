package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/fieldwatch/internal/classifier"
)

func TestShouldEmitRespectsCooldown(t *testing.T) {
	t.Parallel()

	w := New(DefaultCooldowns(), 0)
	key := Key{SensorID: "node-01", AlertType: classifier.AlertThreshold, Direction: classifier.Below}
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, w.ShouldEmit(key, classifier.Low, t0))
	assert.False(t, w.ShouldEmit(key, classifier.Low, t0.Add(time.Minute)))
	assert.False(t, w.ShouldEmit(key, classifier.Low, t0.Add(29*time.Minute)))
	assert.True(t, w.ShouldEmit(key, classifier.Low, t0.Add(30*time.Minute)))

	e, ok := w.Lookup(key)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(30*time.Minute), e.LastEmittedAt)
}

func TestCooldownScalesWithSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity classifier.Severity
		cooldown time.Duration
	}{
		{classifier.Low, 30 * time.Minute},
		{classifier.High, 10 * time.Minute},
		{classifier.Critical, 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.severity.String(), func(t *testing.T) {
			t.Parallel()

			w := New(DefaultCooldowns(), 0)
			key := Key{SensorID: "node-01", AlertType: classifier.AlertThreshold, Direction: classifier.Above}
			t0 := time.Now()

			assert.True(t, w.ShouldEmit(key, tt.severity, t0))
			assert.False(t, w.ShouldEmit(key, tt.severity, t0.Add(tt.cooldown-time.Second)))
			assert.True(t, w.ShouldEmit(key, tt.severity, t0.Add(tt.cooldown)))
		})
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	w := New(DefaultCooldowns(), 0)
	t0 := time.Now()
	below := Key{SensorID: "node-01", AlertType: classifier.AlertThreshold, Direction: classifier.Below}
	above := Key{SensorID: "node-01", AlertType: classifier.AlertThreshold, Direction: classifier.Above}
	battery := Key{SensorID: "node-01", AlertType: classifier.AlertBattery, Direction: classifier.Below}

	assert.True(t, w.ShouldEmit(below, classifier.Low, t0))
	assert.True(t, w.ShouldEmit(above, classifier.Low, t0))
	assert.True(t, w.ShouldEmit(battery, classifier.Low, t0))
	assert.Equal(t, 3, w.Len())
}

func TestForgetAndRecord(t *testing.T) {
	t.Parallel()

	w := New(DefaultCooldowns(), 0)
	key := Key{SensorID: "node-01", AlertType: classifier.AlertThreshold, Direction: classifier.Below}
	t0 := time.Now()

	assert.True(t, w.ShouldEmit(key, classifier.Low, t0))
	w.Forget(key)
	assert.True(t, w.ShouldEmit(key, classifier.Low, t0.Add(time.Second)))

	w.Record(key, classifier.High, t0.Add(2*time.Second))
	assert.False(t, w.ShouldEmit(key, classifier.High, t0.Add(3*time.Second)))
}

func TestZeroCooldownAlwaysEmits(t *testing.T) {
	t.Parallel()

	w := New(Cooldowns{}, 0)
	key := Key{SensorID: "node-01", AlertType: classifier.AlertSystem, Direction: classifier.None}
	t0 := time.Now()

	assert.True(t, w.ShouldEmit(key, classifier.High, t0))
	assert.True(t, w.ShouldEmit(key, classifier.High, t0))
}
