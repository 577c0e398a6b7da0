package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/fieldwatch/internal/errors"
)

// traceLevelValue sits below slog.LevelDebug (-4)
const traceLevelValue = slog.Level(-8)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process logger. The root command calls it
// once configuration is loaded.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cl
}

// Global returns the process logger. Before SetGlobal it is an info level
// console logger, so packages may log during startup.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			levels:  levelTable{fallback: slog.LevelInfo},
			handler: newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
		}
	}
	return global
}

type traceIDKey struct{}

// WithTraceID tags ctx so loggers derived with WithContext carry trace_id.
// The HTTP server uses the request id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// CentralLogger owns the output handlers and hands out module loggers
type CentralLogger struct {
	mu      sync.RWMutex
	levels  levelTable
	handler slog.Handler
	file    *fileWriter
}

// NewCentralLogger builds the console and file outputs described by cfg.
// Missing sections are filled with defaults.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
		tz = loc
	}

	cl := &CentralLogger{levels: newLevelTable(cfg.DefaultLevel, cfg.ModuleLevels)}

	var outputs []slog.Handler
	if cfg.Console.Enabled {
		outputs = append(outputs, newTextHandler(os.Stdout, parseLogLevel(cfg.Console.Level), tz))
	}
	if cfg.FileOutput.Enabled {
		w, err := openLogFile(cfg.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		cl.file = w
		outputs = append(outputs, slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.FileOutput.Level),
		}))
	}

	switch len(outputs) {
	case 0:
		cl.handler = newTextHandler(os.Stdout, parseLogLevel(cfg.DefaultLevel), tz)
	case 1:
		cl.handler = outputs[0]
	default:
		cl.handler = newMultiWriterHandler(outputs...)
	}
	return cl, nil
}

func openLogFile(path string) (*fileWriter, error) {
	if dir := filepath.Dir(path); dir != "." && dir != path {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Newf("failed to create log directory %s: %w", dir, err).
				Component("logger").
				Category(errors.CategoryFileIO).
				Build()
		}
	}
	w, err := newFileWriter(path)
	if err != nil {
		return nil, errors.Newf("failed to open log file: %w", err).
			Component("logger").
			Category(errors.CategoryFileIO).
			Build()
	}
	return w, nil
}

// Module returns a logger for name; its level is the most specific entry
// in module_levels.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return &moduleLogger{
		module: name,
		logger: slog.New(cl.handler),
		level:  cl.levels.lookup(name, cl.levels.fallback),
		levels: cl.levels,
	}
}

// Flush syncs the log file, if any
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.file == nil {
		return nil
	}
	return cl.file.Sync()
}

// Close closes the log file, if any
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := cl.file.Close()
	cl.file = nil
	if err != nil {
		return errors.Newf("failed to close log file: %w", err).
			Component("logger").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}

// levelTable maps dotted module names to levels. It is read-only once built.
type levelTable struct {
	byModule map[string]slog.Level
	fallback slog.Level
}

func newLevelTable(defaultLevel string, modules map[string]string) levelTable {
	t := levelTable{
		byModule: make(map[string]slog.Level, len(modules)),
		fallback: parseLogLevel(defaultLevel),
	}
	for module, level := range modules {
		t.byModule[module] = parseLogLevel(level)
	}
	return t
}

// lookup walks "a.b.c", "a.b", "a" and returns def when none is configured
func (t levelTable) lookup(module string, def slog.Level) slog.Level {
	for name := module; name != ""; {
		if level, ok := t.byModule[name]; ok {
			return level
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return def
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return traceLevelValue
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
