// Package fanout delivers alert events to connected observers.
//
// Every observer owns a bounded FIFO queue and a pump goroutine that moves
// events to the observer's channel. Publish only appends to queues, so a
// slow observer never delays the publisher or other observers.
package fanout

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
)

// OverflowPolicy decides what happens when an observer queue is full
type OverflowPolicy string

const (
	// Disconnect cuts the observer off. Connected observers never miss an
	// event; a disconnected one resyncs from the alert listing.
	Disconnect OverflowPolicy = "disconnect"
	// DropOldest discards the oldest queued event to make room
	DropOldest OverflowPolicy = "drop-oldest"
)

// Defaults
const (
	DefaultQueueSize           = 256
	DefaultDeliveryTimeout     = 5 * time.Second
	DefaultMaxDeliveryFailures = 3
)

// Drop and disconnect reasons reported to the Recorder
const (
	ReasonQueueFull      = "queue_full"
	ReasonDeliveryFailed = "delivery_failed"
	ReasonUnsubscribed   = "unsubscribed"
)

// ErrDuplicateObserver is returned when subscribing an id that is already connected
var ErrDuplicateObserver = errors.NewStd("observer already subscribed")

// ErrHubStopped is returned when subscribing after Stop
var ErrHubStopped = errors.NewStd("fanout hub stopped")

func getLogger() logger.Logger {
	return logger.Global().Module("fanout")
}

// Recorder receives fan-out statistics. observability.EngineMetrics implements it.
type Recorder interface {
	SetObservers(n int)
	ObserverDropped(reason string)
	ObserverDisconnected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) SetObservers(int)            {}
func (nopRecorder) ObserverDropped(string)      {}
func (nopRecorder) ObserverDisconnected(string) {}

// Config holds hub settings
type Config struct {
	QueueSize           int
	DeliveryTimeout     time.Duration
	MaxDeliveryFailures int
	Overflow            OverflowPolicy
}

// DefaultConfig returns the built-in settings
func DefaultConfig() Config {
	return Config{
		QueueSize:           DefaultQueueSize,
		DeliveryTimeout:     DefaultDeliveryTimeout,
		MaxDeliveryFailures: DefaultMaxDeliveryFailures,
		Overflow:            Disconnect,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.MaxDeliveryFailures <= 0 {
		c.MaxDeliveryFailures = d.MaxDeliveryFailures
	}
	if c.Overflow != DropOldest {
		c.Overflow = Disconnect
	}
	return c
}

// Hub fans events out to observers
type Hub struct {
	config   Config
	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	observers map[string]*observer
	stopped   bool
}

// NewHub creates a hub. A nil recorder discards statistics.
func NewHub(config Config, recorder Recorder) *Hub {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:    config.withDefaults(),
		recorder:  recorder,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[string]*observer),
	}
}

// Subscribe registers an observer and starts its pump. An empty id gets a
// generated one. The returned channel is closed and the context cancelled
// when the observer is disconnected or unsubscribed.
func (h *Hub) Subscribe(observerID string) (<-chan alert.Event, context.Context, error) {
	if observerID == "" {
		observerID = uuid.NewString()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil, nil, errors.New(ErrHubStopped).
			Component("fanout").
			Category(errors.CategoryState).
			Build()
	}
	if _, exists := h.observers[observerID]; exists {
		return nil, nil, errors.New(ErrDuplicateObserver).
			Component("fanout").
			Category(errors.CategoryConflict).
			Context("observer_id", observerID).
			Build()
	}

	ctx, cancel := context.WithCancel(h.ctx)
	obs := &observer{
		id:     observerID,
		out:    make(chan alert.Event),
		queue:  newRing(h.config.QueueSize),
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	h.observers[observerID] = obs
	h.recorder.SetObservers(len(h.observers))

	h.wg.Add(1)
	go h.pump(obs)

	getLogger().Debug("observer subscribed",
		logger.String("observer_id", observerID),
		logger.Int("observers", len(h.observers)))

	return obs.out, ctx, nil
}

// Unsubscribe disconnects an observer. Unknown ids are ignored.
func (h *Hub) Unsubscribe(observerID string) {
	h.disconnect(observerID, ReasonUnsubscribed)
}

// Publish queues ev for every observer. It never blocks.
func (h *Hub) Publish(ev alert.Event) {
	var overflowed []string

	h.mu.RLock()
	for id, obs := range h.observers {
		switch obs.enqueue(ev, h.config.Overflow) {
		case enqueueDropped:
			h.recorder.ObserverDropped(ReasonQueueFull)
		case enqueueOverflow:
			overflowed = append(overflowed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range overflowed {
		getLogger().Warn("observer queue full, disconnecting",
			logger.String("observer_id", id),
			logger.Int("queue_size", h.config.QueueSize))
		h.disconnect(id, ReasonQueueFull)
	}
}

// Observers returns the ids of connected observers
func (h *Hub) Observers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.observers))
	for id := range h.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Stop disconnects every observer and waits for all pumps to exit
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	count := len(h.observers)
	for id, obs := range h.observers {
		obs.cancel()
		delete(h.observers, id)
	}
	h.recorder.SetObservers(0)
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()

	getLogger().Info("fanout hub stopped", logger.Int("observers_disconnected", count))
}

func (h *Hub) disconnect(observerID, reason string) {
	h.mu.Lock()
	obs, ok := h.observers[observerID]
	if ok {
		delete(h.observers, observerID)
		h.recorder.SetObservers(len(h.observers))
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	obs.cancel()
	if reason != ReasonUnsubscribed {
		h.recorder.ObserverDisconnected(reason)
	}
}

// pump moves queued events to the observer channel. An event leaves the
// queue only after the observer received it, so a timed out delivery is
// retried until the failure limit disconnects the observer.
func (h *Hub) pump(obs *observer) {
	defer h.wg.Done()
	defer close(obs.out)

	timer := time.NewTimer(h.config.DeliveryTimeout)
	defer timer.Stop()

	for {
		next, ok := obs.peek()
		if !ok {
			select {
			case <-obs.signal:
				continue
			case <-obs.ctx.Done():
				return
			}
		}

		timer.Reset(h.config.DeliveryTimeout)
		select {
		case obs.out <- cloneEvent(next.event):
			obs.ack(next.seq)
			obs.failures = 0
		case <-timer.C:
			obs.failures++
			getLogger().Warn("observer delivery timed out",
				logger.String("observer_id", obs.id),
				logger.Int("failures", obs.failures),
				logger.Duration("timeout", h.config.DeliveryTimeout))
			if obs.failures >= h.config.MaxDeliveryFailures {
				deliveryErr := errors.Newf("observer %s missed %d deliveries", obs.id, obs.failures).
					Component("fanout").
					Category(errors.CategoryBroadcast).
					Context("observer_id", obs.id).
					Build()
				getLogger().Warn("disconnecting observer", logger.Error(deliveryErr))
				h.disconnect(obs.id, ReasonDeliveryFailed)
				return
			}
		case <-obs.ctx.Done():
			return
		}
	}
}

func cloneEvent(ev alert.Event) alert.Event {
	ev.Alert = *ev.Alert.Clone()
	return ev
}
