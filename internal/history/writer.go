package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/observability/metrics"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// ErrWriterClosed is returned by Flush after Close
var ErrWriterClosed = errors.NewStd("history writer closed")

// Recorder receives writer statistics. observability.EngineMetrics implements it.
type Recorder interface {
	RecordAppend(status string)
	RecordRetry()
	SetBacklog(n int)
	SetBreakerState(state int)
}

type nopRecorder struct{}

func (nopRecorder) RecordAppend(string) {}
func (nopRecorder) RecordRetry()        {}
func (nopRecorder) SetBacklog(int)      {}
func (nopRecorder) SetBreakerState(int) {}

// WriterConfig controls queueing, retry and the circuit breaker
type WriterConfig struct {
	QueueSize      int
	BacklogSize    int
	AppendTimeout  time.Duration
	ReplayInterval time.Duration
	Retry          conf.RetrySettings
	Breaker        conf.BreakerSettings
}

// DefaultWriterConfig returns the built-in writer settings
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:      1024,
		BacklogSize:    10000,
		AppendTimeout:  5 * time.Second,
		ReplayInterval: 30 * time.Second,
		Retry: conf.RetrySettings{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxAttempts:     5,
			MaxElapsed:      30 * time.Second,
		},
		Breaker: conf.BreakerSettings{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
			Interval:            time.Minute,
		},
	}
}

// WriterConfigFrom maps history settings onto a writer config
func WriterConfigFrom(s conf.HistorySettings) WriterConfig {
	c := DefaultWriterConfig()
	if s.QueueSize > 0 {
		c.QueueSize = s.QueueSize
	}
	if s.BacklogSize > 0 {
		c.BacklogSize = s.BacklogSize
	}
	if s.AppendTimeout > 0 {
		c.AppendTimeout = s.AppendTimeout
	}
	c.Retry = s.Retry
	c.Breaker = s.Breaker
	if s.Breaker.OpenTimeout > 0 {
		c.ReplayInterval = s.Breaker.OpenTimeout
	}
	return c
}

type recordKind int

const (
	kindEvent recordKind = iota
	kindMarkAllRead
	kindSnapshot
	kindFlush
)

func (k recordKind) String() string {
	switch k {
	case kindEvent:
		return "event"
	case kindMarkAllRead:
		return "mark-all-read"
	case kindSnapshot:
		return "snapshot"
	default:
		return "flush"
	}
}

type record struct {
	kind  recordKind
	event alert.Event // snapshot records carry only Alert
	at    time.Time
	done  chan struct{}
}

// Writer appends to the history store off the caller's goroutine.
//
// Records are persisted in FIFO order. A record that still fails after the
// retry budget, or that meets an open breaker, moves to the degraded
// backlog; while the backlog is non-empty new records queue behind it so
// the store never sees an older snapshot after a newer one.
type Writer struct {
	store    Store
	sink     ReadingSink
	config   WriterConfig
	recorder Recorder

	queue    chan record
	readings chan sensor.Reading

	breaker     *gobreaker.CircuitBreaker
	sinkBreaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	backlog []record

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{}
	closed  atomic.Bool
}

// NewWriter starts a writer for store. sink may be nil when readings are
// not kept. A nil recorder discards statistics.
func NewWriter(store Store, sink ReadingSink, config WriterConfig, recorder Recorder) *Writer {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	defaults := DefaultWriterConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.BacklogSize <= 0 {
		config.BacklogSize = defaults.BacklogSize
	}
	if config.AppendTimeout <= 0 {
		config.AppendTimeout = defaults.AppendTimeout
	}
	if config.ReplayInterval <= 0 {
		config.ReplayInterval = defaults.ReplayInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		store:    store,
		sink:     sink,
		config:   config,
		recorder: recorder,
		queue:    make(chan record, config.QueueSize),
		readings: make(chan sensor.Reading, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	w.breaker = w.newBreaker("history-store")
	w.sinkBreaker = w.newBreaker("history-readings")

	w.wg.Add(1)
	go w.run()
	if sink != nil {
		w.wg.Add(1)
		go w.runReadings()
	}
	return w
}

func (w *Writer) newBreaker(name string) *gobreaker.CircuitBreaker {
	failures := w.config.Breaker.ConsecutiveFailures
	if failures == 0 {
		failures = DefaultWriterConfig().Breaker.ConsecutiveFailures
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    w.config.Breaker.Interval,
		Timeout:     w.config.Breaker.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			getLogger().Warn("history circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
			if name == "history-store" {
				w.recorder.SetBreakerState(int(to))
			}
		},
	})
}

// Publish queues an alert event. It never blocks.
func (w *Writer) Publish(ev alert.Event) {
	w.enqueue(record{kind: kindEvent, event: ev})
}

// PublishSnapshot queues an alert update that produced no event, such as
// an occurrence withheld by the dedup window. It never blocks.
func (w *Writer) PublishSnapshot(a alert.Alert) {
	w.enqueue(record{kind: kindSnapshot, event: alert.Event{Alert: a}})
}

// MarkAllRead queues a bulk read update. It never blocks.
func (w *Writer) MarkAllRead(at time.Time) {
	w.enqueue(record{kind: kindMarkAllRead, at: at})
}

// QueueReading hands a reading to the sink. Readings are best-effort: a
// full queue or a failed write drops the reading.
func (w *Writer) QueueReading(r sensor.Reading) {
	if w.sink == nil || w.closed.Load() {
		return
	}
	select {
	case w.readings <- r:
	default:
		w.recorder.RecordAppend(metrics.StatusDropped)
		getLogger().Debug("reading queue full, dropping reading",
			logger.String("sensor_id", r.SensorID))
	}
}

func (w *Writer) enqueue(rec record) {
	if w.closed.Load() {
		getLogger().Warn("history writer closed, record not persisted",
			logger.String("kind", rec.kind.String()),
			logger.String("event_id", rec.event.ID))
		return
	}
	select {
	case w.queue <- rec:
	default:
		err := errors.Newf("history queue full (%d)", w.config.QueueSize).
			Component("history").
			Category(errors.CategoryLimit).
			Build()
		w.degrade(rec, err)
	}
}

// Flush waits until every record queued before the call has been
// persisted or moved to the backlog.
func (w *Writer) Flush(ctx context.Context) error {
	if w.closed.Load() {
		return ErrWriterClosed
	}
	done := make(chan struct{})
	select {
	case w.queue <- record{kind: kindFlush, done: done}:
	case <-w.stopped:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-w.stopped:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Degraded reports whether the store is currently unavailable
func (w *Writer) Degraded() bool {
	return w.BacklogLen() > 0 || w.breaker.State() == gobreaker.StateOpen
}

// BacklogLen returns the number of records waiting for replay
func (w *Writer) BacklogLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.backlog)
}

// Close stops accepting records, makes one last attempt at everything
// still queued and waits for the workers to exit.
func (w *Writer) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		w.cancel()
	}
	w.wg.Wait()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()
	defer close(w.stopped)

	ticker := time.NewTicker(w.config.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-w.queue:
			w.process(rec)
		case <-ticker.C:
			w.replay()
		case <-w.ctx.Done():
			w.drain()
			return
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case rec := <-w.queue:
			w.process(rec)
		default:
			if n := w.BacklogLen(); n > 0 {
				getLogger().Error("history writer closed with unpersisted records",
					logger.Int("backlog", n))
			}
			return
		}
	}
}

func (w *Writer) process(rec record) {
	if rec.kind == kindFlush {
		close(rec.done)
		return
	}

	if w.BacklogLen() > 0 {
		w.pushBacklog(rec)
		w.replay()
		return
	}

	attempts, err := w.persistWithRetry(rec)
	if err != nil {
		w.degrade(rec, errors.New(err).
			Component("history").
			Category(failureCategory(err)).
			Context("attempts", attempts).
			Build())
		return
	}
	w.recorder.RecordAppend(metrics.StatusSuccess)
}

func (w *Writer) persistWithRetry(rec record) (int, error) {
	bo := backoff.NewExponentialBackOff()
	if w.config.Retry.InitialInterval > 0 {
		bo.InitialInterval = w.config.Retry.InitialInterval
	}
	if w.config.Retry.MaxInterval > 0 {
		bo.MaxInterval = w.config.Retry.MaxInterval
	}
	bo.MaxElapsedTime = w.config.Retry.MaxElapsed

	retries := uint64(0)
	if w.config.Retry.MaxAttempts > 1 {
		retries = uint64(w.config.Retry.MaxAttempts - 1)
	}

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := w.attempt(rec)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, retries), w.ctx), func(err error, next time.Duration) {
		w.recorder.RecordRetry()
		getLogger().Debug("retrying history append",
			logger.String("kind", rec.kind.String()),
			logger.Int("attempt", attempts),
			logger.Duration("next", next),
			logger.Error(err))
	})
	return attempts, err
}

func (w *Writer) attempt(rec record) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.AppendTimeout)
	defer cancel()

	_, err := w.breaker.Execute(func() (any, error) {
		switch rec.kind {
		case kindEvent:
			return nil, w.store.AppendEvent(ctx, rec.event)
		case kindMarkAllRead:
			_, err := w.store.MarkAllRead(ctx, rec.at)
			return nil, err
		case kindSnapshot:
			return nil, w.store.UpsertAlert(ctx, rec.event.Alert)
		default:
			return nil, nil
		}
	})
	return err
}

// failureCategory classifies an append that gave up: deadline or exhausted retries
func failureCategory(err error) errors.ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.CategoryTimeout
	}
	return errors.CategoryRetry
}

func (w *Writer) degrade(rec record, err error) {
	if rec.kind == kindFlush {
		return
	}
	n := w.pushBacklog(rec)
	w.recorder.RecordAppend(metrics.StatusDegraded)
	getLogger().Warn("history append failed, record kept for replay",
		logger.String("kind", rec.kind.String()),
		logger.String("event_id", rec.event.ID),
		logger.String("alert_id", rec.event.Alert.ID),
		logger.Int("backlog", n),
		logger.Error(err))
}

func (w *Writer) pushBacklog(rec record) int {
	w.mu.Lock()
	if len(w.backlog) >= w.config.BacklogSize {
		dropped := w.backlog[0]
		w.backlog = w.backlog[1:]
		w.recorder.RecordAppend(metrics.StatusDropped)
		getLogger().Error("history backlog full, dropping oldest record",
			logger.String("kind", dropped.kind.String()),
			logger.String("event_id", dropped.event.ID))
	}
	w.backlog = append(w.backlog, rec)
	n := len(w.backlog)
	w.mu.Unlock()

	w.recorder.SetBacklog(n)
	return n
}

// replay persists backlog records in order until one fails
func (w *Writer) replay() {
	replayed := 0
	for {
		w.mu.Lock()
		if len(w.backlog) == 0 {
			w.mu.Unlock()
			break
		}
		head := w.backlog[0]
		w.mu.Unlock()

		if err := w.attempt(head); err != nil {
			break
		}

		w.mu.Lock()
		w.backlog[0] = record{}
		w.backlog = w.backlog[1:]
		n := len(w.backlog)
		w.mu.Unlock()

		replayed++
		w.recorder.RecordAppend(metrics.StatusReplayed)
		w.recorder.SetBacklog(n)
	}

	if replayed > 0 {
		remaining := w.BacklogLen()
		getLogger().Info("replayed degraded history records",
			logger.Int("replayed", replayed),
			logger.Int("remaining", remaining))
	}
}

func (w *Writer) runReadings() {
	defer w.wg.Done()

	for {
		select {
		case r := <-w.readings:
			w.writeReading(r)
		case <-w.ctx.Done():
			for {
				select {
				case r := <-w.readings:
					w.writeReading(r)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeReading(r sensor.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.AppendTimeout)
	defer cancel()

	_, err := w.sinkBreaker.Execute(func() (any, error) {
		return nil, w.sink.AppendReading(ctx, r)
	})
	if err != nil {
		w.recorder.RecordAppend(metrics.StatusDropped)
		getLogger().Debug("reading not stored",
			logger.String("sensor_id", r.SensorID),
			logger.Error(err))
	}
}
