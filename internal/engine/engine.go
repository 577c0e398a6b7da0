// Package engine is the telemetry evaluation and alert lifecycle engine.
//
// It validates readings, classifies them against the threshold registry,
// drives the alert state machine and hands every lifecycle event to the
// observer fan-out and the history writer.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/classifier"
	"github.com/tphakala/fieldwatch/internal/dedup"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/fanout"
	"github.com/tphakala/fieldwatch/internal/history"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/observability/metrics"
	"github.com/tphakala/fieldwatch/internal/sensor"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

// storeReadTimeout bounds the read-your-writes flush before store queries
const storeReadTimeout = 2 * time.Second

func getLogger() logger.Logger {
	return logger.Global().Module("engine")
}

// ChannelVerdict is the classification of one channel of a reading
type ChannelVerdict struct {
	SensorType sensor.Type          `json:"sensorType"`
	AlertType  classifier.AlertType `json:"alertType"`
	Value      float64              `json:"value"`
	Verdict    classifier.Verdict   `json:"verdict"`
}

// Result is the outcome of ingesting one reading
type Result struct {
	Accepted   bool                `json:"accepted"`
	Reason     sensor.RejectReason `json:"reason,omitempty"`
	Verdicts   []ChannelVerdict    `json:"verdicts,omitempty"`
	Events     []alert.Event       `json:"events,omitempty"`
	Suppressed int                 `json:"suppressed,omitempty"`
}

// Option configures an Engine
type Option func(*Engine)

// WithReadingSink keeps accepted readings in sink
func WithReadingSink(sink history.ReadingSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithMetrics records engine, fan-out and history statistics
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine ties the evaluation pipeline together
type Engine struct {
	config   Config
	registry *thresholds.Registry
	store    history.Store
	sink     history.ReadingSink
	metrics  *metrics.EngineMetrics
	now      func() time.Time

	manager *alert.Manager
	hub     *fanout.Hub
	writer  *history.Writer

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an engine over registry and store. Call Start before
// ingesting and Stop when done.
func New(config Config, registry *thresholds.Registry, store history.Store, opts ...Option) *Engine {
	e := &Engine{
		config:   config,
		registry: registry,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	var hubRecorder fanout.Recorder
	var writerRecorder history.Recorder
	if e.metrics != nil {
		hubRecorder = e.metrics
		writerRecorder = e.metrics
	}

	e.hub = fanout.NewHub(config.Fanout, hubRecorder)
	e.writer = history.NewWriter(store, e.sink, config.Writer, writerRecorder)
	e.manager = alert.NewManager(
		alert.WithHysteresis(config.Hysteresis),
		alert.WithWindow(dedup.New(config.Cooldowns, config.DedupCleanup)),
		alert.WithPublisher(alert.PublisherFunc(e.publish)),
		alert.WithSnapshotSink(e.writer.PublishSnapshot),
		alert.WithClock(e.now),
	)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// publish runs under the alert's key lock; both targets only enqueue.
func (e *Engine) publish(ev alert.Event) {
	if e.metrics != nil {
		e.metrics.RecordTransition(string(ev.Alert.AlertType), string(ev.Type))
	}
	e.hub.Publish(ev)
	e.writer.Publish(ev)
}

// Start restores open alerts and persisted overrides from history and
// starts the retention loop.
func (e *Engine) Start(ctx context.Context) error {
	if n, err := e.registry.Load(ctx); err != nil {
		getLogger().Warn("failed to load threshold overrides", logger.Error(err))
	} else if n > 0 {
		getLogger().Info("threshold overrides loaded", logger.Int("count", n))
	}

	if e.config.RestoreOnStart {
		open, err := e.store.LoadOpen(ctx)
		if err != nil {
			return errors.New(err).
				Component("engine").
				Category(errors.CategoryDatabase).
				Context("operation", "restore-open-alerts").
				Build()
		}
		restored := e.manager.Restore(open)
		getLogger().Info("open alerts restored",
			logger.Int("restored", restored),
			logger.Int("stored", len(open)))
	}

	if e.config.CleanupInterval > 0 && e.config.Retention > 0 {
		e.wg.Add(1)
		go e.retentionLoop()
	}
	return nil
}

// Stop ends the retention loop, disconnects observers and drains the
// history writer.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.hub.Stop()
		if err := e.writer.Close(); err != nil {
			getLogger().Warn("history writer close failed", logger.Error(err))
		}
		getLogger().Info("engine stopped")
	})
}

func (e *Engine) retentionLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.PurgeClosed(e.ctx)
		}
	}
}

// PurgeClosed drops terminal alerts older than the retention period from
// memory and history.
func (e *Engine) PurgeClosed(ctx context.Context) {
	before := e.now().Add(-e.config.Retention)
	inMemory := e.manager.PurgeClosed(before)

	storeCtx, cancel := context.WithTimeout(ctx, e.config.Writer.AppendTimeout)
	defer cancel()
	stored, err := e.store.PurgeClosed(storeCtx, before)
	if err != nil {
		getLogger().Warn("history retention failed", logger.Error(err))
	}
	if inMemory > 0 || stored > 0 {
		getLogger().Info("closed alerts purged",
			logger.Int("memory", inMemory),
			logger.Int64("history", stored),
			logger.Time("before", before))
	}
}

// Ingest validates and evaluates one reading
func (e *Engine) Ingest(ctx context.Context, r sensor.Reading) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, errors.New(err).
			Component("engine").
			Category(errors.CategoryCancellation).
			Build()
	}
	start := time.Now()

	vr, err := sensor.Validate(r, e.now(), e.config.ClockSkew)
	if err != nil {
		reason := sensor.ReasonOf(err)
		if e.metrics != nil {
			e.metrics.RecordReading(string(reason))
		}
		getLogger().Debug("reading rejected",
			logger.String("sensor_id", r.SensorID),
			logger.String("reason", string(reason)))
		return Result{Reason: reason}, err
	}

	res := Result{Accepted: true}
	channels := append([]sensor.ValidatedReading{vr}, vr.Channels()...)
	for _, ch := range channels {
		band, ok := e.registry.Band(ch.SensorID, ch.SensorType)
		if !ok {
			continue
		}
		verdict := classifier.Classify(ch.Value, band)
		alertType := classifier.AlertTypeFor(ch.SensorType)
		title, message := classifier.Describe(ch.SensorType, verdict, ch.Value, band)

		out := e.manager.Evaluate(alert.Input{
			SensorID:   ch.SensorID,
			AlertType:  alertType,
			SensorType: ch.SensorType,
			Verdict:    verdict,
			Value:      ch.Value,
			Title:      title,
			Message:    message,
			At:         ch.Timestamp,
		})

		res.Verdicts = append(res.Verdicts, ChannelVerdict{
			SensorType: ch.SensorType,
			AlertType:  alertType,
			Value:      ch.Value,
			Verdict:    verdict,
		})
		res.Events = append(res.Events, out.Events...)
		res.Suppressed += out.Suppressed
		if e.metrics != nil {
			for range out.Suppressed {
				e.metrics.RecordSuppressed(string(alertType))
			}
		}
	}

	e.writer.QueueReading(vr.Reading)
	if e.metrics != nil {
		e.metrics.RecordReading("")
		e.metrics.ObserveIngest(time.Since(start))
	}
	return res, nil
}

// Acknowledge moves an open alert to acknowledged
func (e *Engine) Acknowledge(ctx context.Context, id, note string) (alert.Alert, error) {
	a, _, err := e.manager.Acknowledge(id, note)
	if err != nil {
		return alert.Alert{}, e.missingAlert(ctx, id, "acknowledge", err)
	}
	return a, nil
}

// Resolve closes an open or acknowledged alert
func (e *Engine) Resolve(ctx context.Context, id, note string) (alert.Alert, error) {
	a, _, err := e.manager.Resolve(id, note)
	if err != nil {
		return alert.Alert{}, e.missingAlert(ctx, id, "resolve", err)
	}
	return a, nil
}

// Dismiss closes an open or acknowledged alert without resolving it
func (e *Engine) Dismiss(ctx context.Context, id, note string) (alert.Alert, error) {
	a, _, err := e.manager.Dismiss(id, note)
	if err != nil {
		return alert.Alert{}, e.missingAlert(ctx, id, "dismiss", err)
	}
	return a, nil
}

// missingAlert refines a manager not-found error. Alerts that only exist
// in history are terminal, so transitions on them are invalid.
func (e *Engine) missingAlert(ctx context.Context, id, op string, err error) error {
	if !errors.IsNotFound(err) {
		return err
	}
	stored, storeErr := e.store.GetAlert(ctx, id)
	if storeErr != nil {
		return err
	}
	return errors.New(alert.ErrInvalidTransition).
		Component("engine").
		Category(errors.CategoryState).
		Context("alert_id", id).
		Context("operation", op).
		Context("status", string(stored.Status)).
		Build()
}

// GetAlert returns one alert from memory or history
func (e *Engine) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	a, err := e.manager.Get(id)
	if err == nil {
		return a, nil
	}
	if stored, storeErr := e.store.GetAlert(ctx, id); storeErr == nil {
		return stored, nil
	}
	return alert.Alert{}, err
}

// MarkRead flags one alert as read
func (e *Engine) MarkRead(ctx context.Context, id string) (alert.Alert, error) {
	a, _, err := e.manager.MarkRead(id)
	if err == nil {
		return a, nil
	}
	if !errors.IsNotFound(err) {
		return alert.Alert{}, err
	}

	stored, storeErr := e.store.GetAlert(ctx, id)
	if storeErr != nil {
		return alert.Alert{}, err
	}
	if stored.IsRead {
		return stored, nil
	}
	stored.IsRead = true
	e.publish(alert.Event{
		ID:        uuid.NewString(),
		Type:      alert.EventRead,
		Alert:     stored,
		Timestamp: e.now(),
	})
	return stored, nil
}

// MarkAllRead flags every alert as read and returns how many were unread
func (e *Engine) MarkAllRead(ctx context.Context) (int, error) {
	unread, err := e.GetUnreadCount(ctx)
	if err != nil {
		return 0, err
	}
	marked := e.manager.MarkAllRead()
	e.writer.MarkAllRead(e.now())
	return max(unread, marked), nil
}

// ListAlerts queries history. While history is degraded it answers from
// the in-memory alerts instead.
func (e *Engine) ListAlerts(ctx context.Context, f alert.Filter) (alert.Page, error) {
	if e.historyReadable(ctx) {
		page, err := e.store.QueryAlerts(ctx, f)
		if err == nil {
			return page, nil
		}
		getLogger().Warn("history query failed, listing in-memory alerts", logger.Error(err))
	}
	return e.manager.Snapshot(f), nil
}

// GetUnreadCount counts alerts not yet read
func (e *Engine) GetUnreadCount(ctx context.Context) (int, error) {
	if e.historyReadable(ctx) {
		n, err := e.store.UnreadCount(ctx)
		if err == nil {
			return int(n), nil
		}
		getLogger().Warn("history unread count failed, counting in-memory alerts", logger.Error(err))
	}
	return e.manager.UnreadCount(), nil
}

// historyReadable waits for queued writes so reads observe them, and
// reports false while history is degraded.
func (e *Engine) historyReadable(ctx context.Context) bool {
	if e.writer.Degraded() {
		return false
	}
	flushCtx, cancel := context.WithTimeout(ctx, storeReadTimeout)
	defer cancel()
	if err := e.writer.Flush(flushCtx); err != nil {
		getLogger().Debug("history flush before read did not complete", logger.Error(err))
	}
	return !e.writer.Degraded()
}

// Degraded reports whether history is currently unavailable
func (e *Engine) Degraded() bool {
	return e.writer.Degraded()
}

// SetThresholdOverride sets the band of one sensor. An invalid band leaves
// the registry unchanged.
func (e *Engine) SetThresholdOverride(sensorID string, t sensor.Type, band thresholds.Band) error {
	return e.registry.SetOverride(sensorID, t, band)
}

// ClearThresholdOverride removes a sensor's override
func (e *Engine) ClearThresholdOverride(sensorID string, t sensor.Type) bool {
	return e.registry.ClearOverride(sensorID, t)
}

// Threshold returns the band in effect for a sensor and whether it is an override
func (e *Engine) Threshold(sensorID string, t sensor.Type) (band thresholds.Band, override, ok bool) {
	if b, found := e.registry.Override(sensorID, t); found {
		return b, true, true
	}
	b, found := e.registry.Default(t)
	return b, false, found
}

// Registry exposes the threshold registry
func (e *Engine) Registry() *thresholds.Registry {
	return e.registry
}

// ReportSystemFault raises a system alert for a failing node component
func (e *Engine) ReportSystemFault(sensorID, component, errorCode string) (alert.Alert, error) {
	title := fmt.Sprintf("System fault: %s", component)
	message := fmt.Sprintf("Sensor %s reported a %s fault (code %s)", sensorID, component, errorCode)

	out, err := e.manager.RaiseCondition(sensorID, classifier.AlertSystem, classifier.High, title, message, e.now())
	if err != nil {
		return alert.Alert{}, err
	}
	return out.Alerts[len(out.Alerts)-1], nil
}

// CheckMaintenance raises a maintenance alert when task is overdue at now.
// It returns false when the task is not overdue. Tasks overdue by more
// than twice their interval are raised as high severity.
func (e *Engine) CheckMaintenance(sensorID string, task thresholds.MaintenanceTask, lastDone, now time.Time) (alert.Alert, bool, error) {
	policy := e.registry.Policy()
	interval, ok := policy.Interval(task)
	if !ok {
		return alert.Alert{}, false, errors.Newf("unknown maintenance task %q", task).
			Component("engine").
			Category(errors.CategoryValidation).
			Context("sensor_id", sensorID).
			Build()
	}
	if !policy.Overdue(task, lastDone, now) {
		return alert.Alert{}, false, nil
	}

	severity := classifier.Low
	if now.Sub(lastDone) > 2*interval {
		severity = classifier.High
	}
	days := int(now.Sub(lastDone).Hours() / 24)
	title := fmt.Sprintf("Maintenance overdue: %s", task)
	message := fmt.Sprintf("Sensor %s last had %s %d days ago (every %d days)",
		sensorID, task, days, int(interval.Hours()/24))

	out, err := e.manager.RaiseCondition(sensorID, classifier.AlertMaintenance, severity, title, message, now)
	if err != nil {
		return alert.Alert{}, false, err
	}
	return out.Alerts[len(out.Alerts)-1], true, nil
}

// Subscribe connects an observer to the event stream
func (e *Engine) Subscribe(observerID string) (<-chan alert.Event, context.Context, error) {
	return e.hub.Subscribe(observerID)
}

// Unsubscribe disconnects an observer
func (e *Engine) Unsubscribe(observerID string) {
	e.hub.Unsubscribe(observerID)
}

// Flush waits until queued history writes are persisted or degraded
func (e *Engine) Flush(ctx context.Context) error {
	return e.writer.Flush(ctx)
}
