package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestModuleLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		level    LogLevel
		log      func(Logger)
		expected bool
	}{
		{"info passes at info", LogLevelInfo, func(l Logger) { l.Info("hello") }, true},
		{"debug filtered at info", LogLevelInfo, func(l Logger) { l.Debug("hello") }, false},
		{"trace passes at trace", LogLevelTrace, func(l Logger) { l.Trace("hello") }, true},
		{"warn filtered at error", LogLevelError, func(l Logger) { l.Warn("hello") }, false},
		{"error always passes", LogLevelError, func(l Logger) { l.Error("hello") }, true},
		{"explicit level", LogLevelDebug, func(l Logger) { l.Log(LogLevelDebug, "hello") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			tt.log(NewSlogLogger(&buf, tt.level, time.UTC))

			assert.Equal(t, tt.expected, strings.Contains(buf.String(), "msg=hello"), buf.String())
		})
	}
}

func TestFieldsAndModules(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := NewSlogLogger(&buf, LogLevelDebug, time.UTC)

	log := base.Module("engine").Module("lifecycle").With(String("sensor_id", "node-7"))
	log.Info("alert opened",
		Float64("value", 17.12345),
		Duration("cooldown", 1500*time.Millisecond),
		Error(os.ErrNotExist))

	out := buf.String()
	assert.Contains(t, out, "module=engine.lifecycle")
	assert.Contains(t, out, "sensor_id=node-7")
	assert.Contains(t, out, "value=17.123")
	assert.Contains(t, out, "cooldown=1.5s")
	assert.Contains(t, out, `error="file does not exist"`)
	assert.NotContains(t, out, "time=", "console output has no timestamp")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, nil)

	log.WithContext(WithTraceID(context.Background(), "abc123")).Info("traced")
	log.WithContext(context.Background()).Info("untraced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=abc123")
	assert.NotContains(t, lines[1], "trace_id")
}

func TestCentralLoggerModuleLevels(t *testing.T) {
	t.Parallel()

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "warn",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		ModuleLevels: map[string]string{"history": "debug"},
	})
	require.NoError(t, err)

	history := cl.Module("history").(*moduleLogger)
	assert.Equal(t, parseLogLevel("debug"), history.level)

	// nested modules inherit from the closest configured parent
	gormLog := history.Module("gorm").(*moduleLogger)
	assert.Equal(t, parseLogLevel("debug"), gormLog.level)

	engine := cl.Module("engine").(*moduleLogger)
	assert.Equal(t, parseLogLevel("warn"), engine.level)
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "fieldwatch.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info"},
	})
	require.NoError(t, err)

	cl.Module("api").Info("request served", Int("status", 200))
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "request served", entry["msg"])
	assert.Equal(t, "api", entry["module"])
	assert.InDelta(t, 200, entry["status"], 0)
}

func TestNewCentralLoggerRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	require.Error(t, err)

	_, err = NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, traceLevelValue, parseLogLevel("TRACE"))
	assert.Equal(t, parseLogLevel("warn"), parseLogLevel("warning"))
	assert.Equal(t, parseLogLevel("info"), parseLogLevel("bogus"))
}

func TestGormAdapterNotFoundScopedToLookupTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sql     string
		err     error
		message string
	}{
		{"alert lookup", "SELECT * FROM `alerts` WHERE id = \"a1\" LIMIT 1", gorm.ErrRecordNotFound, "msg=\"row not found\""},
		{"override lookup", `SELECT * FROM "threshold_overrides" WHERE sensor_id = 'node-01'`, gorm.ErrRecordNotFound, "msg=\"row not found\""},
		{"event lookup", "SELECT * FROM `alert_events` WHERE alert_id = \"a1\"", gorm.ErrRecordNotFound, "msg=\"query error\""},
		{"insert failure", "INSERT INTO `alerts` (`id`) VALUES (\"a1\")", os.ErrPermission, "msg=\"query error\""},
		{"plain update", "UPDATE alerts SET is_read = true", nil, "msg=\"sql query\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			adapter := NewGormLoggerAdapter(NewSlogLogger(&buf, LogLevelTrace, time.UTC), 0,
				"alerts", "threshold_overrides")
			adapter.Trace(context.Background(), time.Now(), func() (string, int64) { return tt.sql, 0 }, tt.err)

			assert.Contains(t, buf.String(), tt.message, buf.String())
		})
	}
}

func TestStatementTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT count(*) FROM `alerts` WHERE status = 'open'", "alerts"},
		{`INSERT INTO "sensor_readings" ("sensor_id") VALUES ('n1')`, "sensor_readings"},
		{"UPDATE threshold_overrides SET min = 5", "threshold_overrides"},
		{"PRAGMA journal_mode", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statementTable(tt.sql), tt.sql)
	}
}
