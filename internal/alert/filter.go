package alert

import (
	"cmp"
	"slices"
	"time"

	"github.com/tphakala/fieldwatch/internal/classifier"
)

// Paging limits
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Filter selects alerts for listing. Zero values match everything.
type Filter struct {
	Statuses   []Status
	Severities []classifier.Severity
	SensorID   string
	AlertTypes []classifier.AlertType
	Since      time.Time // OpenedAt >= Since
	Until      time.Time // OpenedAt < Until
	IsRead     *bool
	Limit      int
	Offset     int
	Page       int // 1-based; overrides Offset when set
}

// Page is one page of alerts, newest first by OpenedAt
type Page struct {
	Alerts  []Alert `json:"alerts"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"hasMore"`
}

// Normalized clamps Limit into 1..MaxLimit and resolves Page into Offset
func (f Filter) Normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	if f.Page > 0 {
		f.Offset = (f.Page - 1) * f.Limit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether a passes every condition of f
func (f Filter) Matches(a *Alert) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, a.Severity) {
		return false
	}
	if f.SensorID != "" && f.SensorID != a.SensorID {
		return false
	}
	if len(f.AlertTypes) > 0 && !slices.Contains(f.AlertTypes, a.AlertType) {
		return false
	}
	if !f.Since.IsZero() && a.OpenedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !a.OpenedAt.Before(f.Until) {
		return false
	}
	if f.IsRead != nil && *f.IsRead != a.IsRead {
		return false
	}
	return true
}

// NewestFirst orders alerts by OpenedAt descending, ties by ID descending
func NewestFirst(a, b Alert) int {
	if c := b.OpenedAt.Compare(a.OpenedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// Paginate filters, sorts and slices alerts according to f
func Paginate(alerts []Alert, f Filter) Page {
	f = f.Normalized()

	matched := make([]Alert, 0, len(alerts))
	for i := range alerts {
		if f.Matches(&alerts[i]) {
			matched = append(matched, alerts[i])
		}
	}
	slices.SortFunc(matched, NewestFirst)

	page := Page{Total: len(matched), Limit: f.Limit, Offset: f.Offset, Alerts: []Alert{}}
	if f.Offset >= len(matched) {
		return page
	}
	end := min(f.Offset+f.Limit, len(matched))
	page.Alerts = matched[f.Offset:end]
	page.HasMore = end < len(matched)
	return page
}
