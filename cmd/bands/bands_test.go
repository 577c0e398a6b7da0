package bands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldwatch/internal/sensor"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

func TestPrint(t *testing.T) {
	t.Parallel()

	registry := thresholds.NewRegistry()
	require.NoError(t, registry.SetOverride("node-01", sensor.SoilMoisture, thresholds.Band{
		Min: 30, Max: 70, Critical: thresholds.Critical{Low: 25, High: 90},
	}))

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, registry, "node-01"))
	out := buf.String()

	assert.Contains(t, out, "soilMoisture")
	assert.Contains(t, out, "override")
	assert.Contains(t, out, "temperature")
	assert.Contains(t, out, "calibration")
	assert.Contains(t, out, "2160h0m0s")

	buf.Reset()
	require.NoError(t, Print(&buf, registry, ""))
	assert.NotContains(t, buf.String(), "override")
}
