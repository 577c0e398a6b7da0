package errors

import (
	"regexp"
	"sync"
	"sync/atomic"
)

// TelemetryReporter receives every built error while it is enabled
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// ErrorHook observes built errors, e.g. to count them
type ErrorHook func(ee *EnhancedError)

// PrivacyScrubber rewrites a message before it leaves the process
type PrivacyScrubber func(string) string

var (
	// hasActiveReporting lets Build skip the lock when nobody listens
	hasActiveReporting atomic.Bool

	reportMu sync.RWMutex
	reporter TelemetryReporter
	hooks    []ErrorHook

	scrubber atomic.Pointer[PrivacyScrubber]
)

// SetTelemetryReporter installs r. nil disables reporting.
func SetTelemetryReporter(r TelemetryReporter) {
	reportMu.Lock()
	defer reportMu.Unlock()
	reporter = r
	refreshActiveLocked()
}

// AddErrorHook registers hook for every subsequently built error
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	reportMu.Lock()
	defer reportMu.Unlock()
	hooks = append(hooks, hook)
	refreshActiveLocked()
}

// ClearErrorHooks removes every hook
func ClearErrorHooks() {
	reportMu.Lock()
	defer reportMu.Unlock()
	hooks = nil
	refreshActiveLocked()
}

func refreshActiveLocked() {
	hasActiveReporting.Store(len(hooks) > 0 || (reporter != nil && reporter.IsEnabled()))
}

func reportToTelemetry(ee *EnhancedError) {
	reportMu.RLock()
	r, hs := reporter, hooks
	reportMu.RUnlock()

	for _, hook := range hs {
		hook(ee)
	}
	if r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}

// SetPrivacyScrubber replaces the built-in scrubbing used for reports.
// nil restores the built-in one.
func SetPrivacyScrubber(s PrivacyScrubber) {
	if s == nil {
		scrubber.Store(nil)
		return
	}
	scrubber.Store(&s)
}

func scrub(message string) string {
	if s := scrubber.Load(); s != nil {
		return (*s)(message)
	}
	return basicURLScrub(message)
}

var (
	userinfoPattern = regexp.MustCompile(`((?:https?|tcp|ssl|mqtts?)://)[^/@\s]+@`)
	queryPattern    = regexp.MustCompile(`((?:https?|tcp|ssl|mqtts?)://[^?\s]+)\?\S*`)
	secretPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:api[_-]?key|token|password)[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
)

// basicURLScrub removes URL credentials, query strings and obvious secrets
func basicURLScrub(message string) string {
	out := userinfoPattern.ReplaceAllString(message, "$1[CREDENTIALS_REDACTED]@")
	out = queryPattern.ReplaceAllString(out, "$1?[REDACTED]")
	for _, re := range secretPatterns {
		out = re.ReplaceAllString(out, "[SECRET_REDACTED]")
	}
	return out
}
