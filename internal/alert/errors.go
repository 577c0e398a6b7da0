package alert

import (
	"github.com/tphakala/fieldwatch/internal/errors"
)

var (
	// ErrInvalidTransition is returned for transitions the state machine forbids
	ErrInvalidTransition = errors.NewStd("invalid alert transition")
	// ErrAlertNotFound is returned for unknown alert ids
	ErrAlertNotFound = errors.NewStd("alert not found")
)

func invalidTransition(a *Alert, op string) error {
	return errors.New(ErrInvalidTransition).
		Component("alert").
		Category(errors.CategoryState).
		Context("alert_id", a.ID).
		Context("status", string(a.Status)).
		Context("operation", op).
		Build()
}

func notFound(id string) error {
	return errors.New(ErrAlertNotFound).
		Component("alert").
		Category(errors.CategoryNotFound).
		Context("alert_id", id).
		Build()
}

func invalidCondition(sensorID, reason string) error {
	return errors.Newf("invalid condition: %s", reason).
		Component("alert").
		Category(errors.CategoryValidation).
		Context("sensor_id", sensorID).
		Build()
}
