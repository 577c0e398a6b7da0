// Package history keeps the durable record of alerts, their lifecycle
// events and raw readings.
//
// Writes go through Writer, which queues them off the hot path and retries
// with backoff behind a circuit breaker. Reads go straight to a Store.
package history

import (
	"context"
	"time"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// ErrAlertNotFound is returned when an alert id is not stored
var ErrAlertNotFound = errors.NewStd("alert not found in history")

// Store is the durable alert record
type Store interface {
	// AppendEvent upserts the event's alert snapshot and appends the event.
	// Appending the same event twice is a no-op.
	AppendEvent(ctx context.Context, ev alert.Event) error
	// UpsertAlert stores an alert snapshot without an event row
	UpsertAlert(ctx context.Context, a alert.Alert) error
	// MarkAllRead flags every stored alert as read
	MarkAllRead(ctx context.Context, at time.Time) (int64, error)
	QueryAlerts(ctx context.Context, f alert.Filter) (alert.Page, error)
	GetAlert(ctx context.Context, id string) (alert.Alert, error)
	UnreadCount(ctx context.Context) (int64, error)
	// LoadOpen returns every open or acknowledged alert
	LoadOpen(ctx context.Context) ([]alert.Alert, error)
	// PurgeClosed deletes terminal alerts whose status changed before before
	PurgeClosed(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// ReadingSink receives accepted readings
type ReadingSink interface {
	AppendReading(ctx context.Context, r sensor.Reading) error
}

// MultiSink writes each reading to every sink
type MultiSink []ReadingSink

// AppendReading writes r to all sinks and joins their errors
func (m MultiSink) AppendReading(ctx context.Context, r sensor.Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendReading(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func getLogger() logger.Logger {
	return logger.Global().Module("history")
}

func notFound(id string) error {
	return errors.New(ErrAlertNotFound).
		Component("history").
		Category(errors.CategoryNotFound).
		Context("alert_id", id).
		Build()
}

func dbError(err error, operation string) error {
	if err == nil {
		return nil
	}
	category := errors.CategoryDatabase
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		category = errors.CategoryTimeout
	case errors.Is(err, context.Canceled):
		category = errors.CategoryCancellation
	}
	return errors.New(err).
		Component("history").
		Category(category).
		Context("operation", operation).
		Build()
}
