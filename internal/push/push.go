// Package push forwards new and escalated alerts to chat and push services
// through shoutrrr. It is an ordinary fan-out observer of the engine.
package push

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/classifier"
	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/observability/metrics"
	"github.com/tphakala/fieldwatch/internal/privacy"
)

// ObserverID is the fan-out observer id the notifier subscribes with
const ObserverID = "push"

func getLogger() logger.Logger {
	return logger.Global().Module("push")
}

// Sender delivers one message to every configured service
type Sender interface {
	Send(message string, params *types.Params) []error
}

// Source is the event stream the notifier observes
type Source interface {
	Subscribe(observerID string) (<-chan alert.Event, context.Context, error)
	Unsubscribe(observerID string)
}

// Config controls filtering and rate limiting
type Config struct {
	Instance    string
	URLs        []string
	MinSeverity classifier.Severity
	Rate        float64
	Burst       int
	Timeout     time.Duration
}

// ConfigFrom maps the push section of the settings
func ConfigFrom(s conf.PushSettings, instance string) (Config, error) {
	sev, ok := classifier.ParseSeverity(s.MinSeverity)
	if !ok || sev == classifier.Normal {
		return Config{}, errors.Newf("push.minseverity %q must be low, high or critical", s.MinSeverity).
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return Config{
		Instance:    instance,
		URLs:        s.URLs,
		MinSeverity: sev,
		Rate:        s.Rate,
		Burst:       s.Burst,
		Timeout:     s.Timeout,
	}, nil
}

// Notifier consumes alert events and pushes the ones worth a notification
type Notifier struct {
	config  Config
	source  Source
	sender  Sender
	limiter *rate.Limiter
	metrics *metrics.PushMetrics
}

// Option configures a Notifier
type Option func(*Notifier)

// WithSender replaces the shoutrrr router
func WithSender(s Sender) Option {
	return func(n *Notifier) { n.sender = s }
}

// WithMetrics records delivery outcomes
func WithMetrics(m *metrics.PushMetrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// New creates a notifier. Without WithSender the configured URLs are
// parsed into a shoutrrr router, so an invalid URL fails here.
func New(config Config, source Source, opts ...Option) (*Notifier, error) {
	if config.Burst < 1 {
		config.Burst = 1
	}
	n := &Notifier{
		config:  config,
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(config.Rate), config.Burst),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.sender != nil {
		return n, nil
	}

	router, err := shoutrrr.CreateSender(config.URLs...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.Timeout > 0 {
		router.Timeout = config.Timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	n.sender = router
	return n, nil
}

// Run observes the event stream until ctx is done. When the fan-out
// disconnects the observer for falling behind, it subscribes again after
// a backoff delay.
func (n *Notifier) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		events, obsCtx, err := n.source.Subscribe(ObserverID)
		if err != nil {
			return errors.New(err).
				Component("push").
				Category(errors.CategoryBroadcast).
				Build()
		}
		disconnected := n.consume(ctx, events, obsCtx)
		n.source.Unsubscribe(ObserverID)
		if !disconnected {
			return nil
		}

		wait := b.NextBackOff()
		getLogger().Warn("push observer disconnected, resubscribing",
			logger.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// consume returns true when the observer was disconnected by the fan-out
func (n *Notifier) consume(ctx context.Context, events <-chan alert.Event, obsCtx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-obsCtx.Done():
			return ctx.Err() == nil
		case ev, ok := <-events:
			if !ok {
				return ctx.Err() == nil
			}
			n.Handle(ctx, ev)
		}
	}
}

// Handle pushes ev when it passes the filter and the rate limit. It
// reports whether a send was attempted.
func (n *Notifier) Handle(ctx context.Context, ev alert.Event) bool {
	if !n.wants(ev) {
		n.record(metrics.PushFiltered, 0)
		return false
	}
	if !n.limiter.Allow() {
		n.record(metrics.PushRateLimited, 0)
		getLogger().Warn("push rate limited",
			logger.String("alert_id", ev.Alert.ID),
			logger.String("severity", ev.Alert.Severity.String()))
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	title, message := Format(n.config.Instance, ev)
	params := types.Params{}
	params.SetTitle(title)

	start := time.Now()
	errs := n.sender.Send(message, &params)
	var failed error
	for _, err := range errs {
		if err != nil {
			failed = privacy.WrapError(err)
			break
		}
	}
	if failed != nil {
		n.record(metrics.PushFailed, time.Since(start))
		getLogger().Error("push delivery failed",
			logger.String("alert_id", ev.Alert.ID),
			logger.Error(failed))
		return true
	}
	n.record(metrics.PushSent, time.Since(start))
	getLogger().Debug("push delivered",
		logger.String("alert_id", ev.Alert.ID),
		logger.String("event", string(ev.Type)))
	return true
}

func (n *Notifier) wants(ev alert.Event) bool {
	if ev.Type != alert.EventCreated && ev.Type != alert.EventEscalated {
		return false
	}
	return ev.Alert.Severity >= n.config.MinSeverity
}

func (n *Notifier) record(status string, d time.Duration) {
	if n.metrics != nil {
		n.metrics.RecordDelivery(status, d)
	}
}

// Format builds the notification title and body for ev
func Format(instance string, ev alert.Event) (title, message string) {
	a := ev.Alert
	title = fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity.String()), a.Title)
	if ev.Type == alert.EventEscalated {
		title += " (escalated)"
	}

	var sb strings.Builder
	sb.WriteString(a.Message)
	fmt.Fprintf(&sb, "\nSensor: %s", a.SensorID)
	if instance != "" {
		fmt.Fprintf(&sb, "\nSite: %s", instance)
	}
	fmt.Fprintf(&sb, "\nAlert: %s", a.ID)
	return title, sb.String()
}
