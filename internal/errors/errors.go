// Package errors wraps errors with a category, the owning component and
// structured context. Built errors are forwarded to an optional telemetry
// reporter.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for reporting and HTTP status mapping
type ErrorCategory string

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryState         ErrorCategory = "state"
	CategoryLimit         ErrorCategory = "limit"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"

	CategoryThreshold   ErrorCategory = "threshold-mgmt"
	CategoryDatabase    ErrorCategory = "database"
	CategoryPersistence ErrorCategory = "persistence" // history degraded mode
	CategoryBroadcast   ErrorCategory = "broadcast"   // observer fan-out

	CategoryNetwork        ErrorCategory = "network"
	CategoryMQTTConnection ErrorCategory = "mqtt-connection"
	CategoryMQTTPublish    ErrorCategory = "mqtt-publish"
	CategoryIntegration    ErrorCategory = "integration"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryCancellation   ErrorCategory = "cancellation"
	CategoryRetry          ErrorCategory = "retry"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when no fieldwatch package is on the call stack.
const ComponentUnknown = "unknown"

// EnhancedError is an error with a category, component and context.
// Everything except the reported flag is fixed once Build returns.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Priority  string
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, anything else through the
// wrapped chain.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetComponent returns the package that built the error
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetPriority returns the explicit priority, or "" when none was set
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the context map
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// GetMessage returns the wrapped error text
func (ee *EnhancedError) GetMessage() string {
	if ee.Err == nil {
		return ""
	}
	return ee.Err.Error()
}

// MarkReported records that telemetry has seen the error
func (ee *EnhancedError) MarkReported() {
	ee.reported.Store(true)
}

// IsReported reports whether telemetry has seen the error
func (ee *EnhancedError) IsReported() bool {
	return ee.reported.Load()
}

// ErrorBuilder assembles an EnhancedError
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New starts building an error around err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an error from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component overrides the component taken from the call stack
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the category. Without one it is derived in Build.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets an explicit priority. Unknown values become medium.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case "":
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		eb.priority = PriorityMedium
	}
	return eb
}

// Context attaches a key/value pair
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any, 4)
	}
	eb.context[key] = value
	return eb
}

// SensorContext attaches the sensor identity, skipping empty parts
func (eb *ErrorBuilder) SensorContext(sensorID, sensorType string) *ErrorBuilder {
	if sensorID != "" {
		eb.Context("sensor_id", sensorID)
	}
	if sensorType != "" {
		eb.Context("sensor_type", sensorType)
	}
	return eb
}

// Build finalizes the error and hands it to the active reporter, if any
func (eb *ErrorBuilder) Build() *EnhancedError {
	component := eb.component
	if component == "" {
		component = callerComponent()
	}
	category := eb.category
	if category == "" {
		category = detectCategory(eb.err, component)
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: component,
	}

	if hasActiveReporting.Load() {
		reportToTelemetry(ee)
	}
	return ee
}

const modulePrefix = "github.com/tphakala/fieldwatch/"

// callerComponent names the first fieldwatch package on the stack outside
// this one: "internal/history.(*GormStore).Append" becomes "history" and
// "cmd/serve.Run" becomes "serve".
func callerComponent() string {
	var pcs [16]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if pkg := componentOf(frame.Function); pkg != "" {
			return pkg
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func componentOf(function string) string {
	name, ok := strings.CutPrefix(function, modulePrefix)
	if !ok {
		return ""
	}
	name = strings.TrimPrefix(name, "internal/")
	name = strings.TrimPrefix(name, "cmd/")
	pkg, _, _ := strings.Cut(name, ".")
	pkg, _, _ = strings.Cut(pkg, "/")
	switch pkg {
	case "errors":
		return ""
	case "conf":
		return "configuration"
	}
	return pkg
}

// detectCategory derives a category from the error chain, its text and
// finally the owning component.
func detectCategory(err error, component string) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}

	var inner *EnhancedError
	if stderrors.As(err, &inner) && inner.Category != "" {
		return inner.Category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return CategoryTimeout
	case strings.Contains(msg, "context canceled"):
		return CategoryCancellation
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return CategoryNetwork
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return CategoryValidation
	}

	switch component {
	case "history":
		return CategoryDatabase
	case "ingest":
		return CategoryMQTTConnection
	case "fanout":
		return CategoryBroadcast
	}
	return CategoryGeneric
}

// NewStd returns a plain sentinel error
func NewStd(text string) error {
	return stderrors.New(text)
}

func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Unwrap(err error) error        { return stderrors.Unwrap(err) }
func Join(errs ...error) error      { return stderrors.Join(errs...) }

// IsCategory reports whether err wraps an EnhancedError of category
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return stderrors.As(err, &ee) && ee.Category == category
}

// IsNotFound is IsCategory(err, CategoryNotFound)
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// CategoryOf returns the category of the outermost EnhancedError in err,
// or CategoryGeneric.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}
