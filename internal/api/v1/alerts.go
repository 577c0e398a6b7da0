package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/classifier"
)

// NoteRequest is the optional body of a manual transition
type NoteRequest struct {
	Note string `json:"note"`
}

// ListAlerts returns a page of alerts matching the query
func (c *Controller) ListAlerts(ctx echo.Context) error {
	f, err := parseFilter(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid alert query")
	}
	page, err := c.engine.ListAlerts(ctx.Request().Context(), f)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alerts")
	}
	return ctx.JSON(http.StatusOK, page)
}

// GetAlert returns one alert
func (c *Controller) GetAlert(ctx echo.Context) error {
	a, err := c.engine.GetAlert(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Alert not found")
	}
	return ctx.JSON(http.StatusOK, a)
}

// GetUnreadCount returns the number of unread alerts
func (c *Controller) GetUnreadCount(ctx echo.Context) error {
	n, err := c.engine.GetUnreadCount(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to count unread alerts")
	}
	return ctx.JSON(http.StatusOK, map[string]int{"unread": n})
}

// Acknowledge moves an open alert to acknowledged
func (c *Controller) Acknowledge(ctx echo.Context) error {
	return c.transition(ctx, c.engine.Acknowledge, "acknowledge")
}

// Resolve closes an alert as resolved
func (c *Controller) Resolve(ctx echo.Context) error {
	return c.transition(ctx, c.engine.Resolve, "resolve")
}

// Dismiss closes an alert as dismissed
func (c *Controller) Dismiss(ctx echo.Context) error {
	return c.transition(ctx, c.engine.Dismiss, "dismiss")
}

type transitionFunc func(ctx context.Context, id, note string) (alert.Alert, error)

func (c *Controller) transition(ctx echo.Context, apply transitionFunc, op string) error {
	var req NoteRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, validationError(err, "note"), "Invalid request body")
	}
	a, err := apply(ctx.Request().Context(), ctx.Param("id"), req.Note)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to "+op+" alert")
	}
	return ctx.JSON(http.StatusOK, a)
}

// MarkRead flags one alert as read
func (c *Controller) MarkRead(ctx echo.Context) error {
	a, err := c.engine.MarkRead(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to mark alert read")
	}
	return ctx.JSON(http.StatusOK, a)
}

// MarkAllRead flags every alert as read
func (c *Controller) MarkAllRead(ctx echo.Context) error {
	n, err := c.engine.MarkAllRead(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to mark alerts read")
	}
	return ctx.JSON(http.StatusOK, map[string]int{"marked": n})
}

// queryValues returns every value of a repeated or comma separated parameter
func queryValues(ctx echo.Context, name string) []string {
	var out []string
	for _, raw := range ctx.QueryParams()[name] {
		for v := range strings.SplitSeq(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func parseFilter(ctx echo.Context) (alert.Filter, error) {
	var f alert.Filter

	for _, v := range queryValues(ctx, "status") {
		s := alert.Status(v)
		if !s.Valid() {
			return f, invalidParam("status", "unknown status %q", v)
		}
		f.Statuses = append(f.Statuses, s)
	}
	for _, v := range queryValues(ctx, "severity") {
		s, ok := classifier.ParseSeverity(v)
		if !ok {
			return f, invalidParam("severity", "unknown severity %q", v)
		}
		f.Severities = append(f.Severities, s)
	}
	for _, v := range queryValues(ctx, "type") {
		t := classifier.AlertType(v)
		if !t.Valid() {
			return f, invalidParam("type", "unknown alert type %q", v)
		}
		f.AlertTypes = append(f.AlertTypes, t)
	}
	f.SensorID = ctx.QueryParam("sensorId")

	var err error
	if f.Since, err = parseTime(ctx, "since"); err != nil {
		return f, err
	}
	if f.Until, err = parseTime(ctx, "until"); err != nil {
		return f, err
	}

	if v := ctx.QueryParam("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			return f, validationError(err, "read")
		}
		f.IsRead = &read
	}

	if f.Limit, err = parseNonNegative(ctx, "limit"); err != nil {
		return f, err
	}
	if f.Page, err = parseNonNegative(ctx, "page"); err != nil {
		return f, err
	}
	if f.Offset, err = parseNonNegative(ctx, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(ctx echo.Context, name string) (time.Time, error) {
	v := ctx.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, validationError(err, name)
	}
	return t, nil
}

func parseNonNegative(ctx echo.Context, name string) (int, error) {
	v := ctx.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalidParam(name, "%s must be a non-negative integer", name)
	}
	return n, nil
}
