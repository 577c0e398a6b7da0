package errors

import (
	"strings"

	"github.com/getsentry/sentry-go"
)

// SentryReporter forwards operational errors to Sentry. sentry.Init must
// have been called.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends ee once. Errors caused by bad input are not faults
// and are skipped.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() || callerMistake(ee.Category) {
		return
	}

	component := ee.GetComponent()
	title := reportTitle(component, ee.Category)
	message := scrub("[" + string(ee.Category) + "] " + ee.GetMessage())
	level := reportLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		if sensorID, ok := ee.Context["sensor_id"].(string); ok {
			scope.SetTag("sensor_id", sensorID)
		}

		extra := make(map[string]any, len(ee.Context))
		for key, value := range ee.Context {
			if s, ok := value.(string); ok {
				value = scrub(s)
			}
			extra[key] = value
		}
		if len(extra) > 0 {
			scope.SetContext("error", extra)
		}

		scope.SetLevel(level)
		scope.SetFingerprint([]string{component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Level = level
		event.Message = message
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func callerMistake(c ErrorCategory) bool {
	switch c {
	case CategoryValidation, CategoryNotFound, CategoryConflict, CategoryState, CategoryThreshold, CategoryCancellation:
		return true
	}
	return false
}

// reportTitle groups events, e.g. "History database" or "Ingest mqtt-connection"
func reportTitle(component string, c ErrorCategory) string {
	if component == "" || component == ComponentUnknown {
		return string(c)
	}
	return strings.ToUpper(component[:1]) + component[1:] + " " + string(c)
}

// reportLevel downgrades transient transport failures to warnings
func reportLevel(c ErrorCategory) sentry.Level {
	switch c {
	case CategoryNetwork, CategoryMQTTConnection, CategoryMQTTPublish, CategoryTimeout, CategoryBroadcast, CategoryRetry:
		return sentry.LevelWarning
	}
	return sentry.LevelError
}
