package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/sensor"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

// ThresholdResponse is the band in effect for one sensor
type ThresholdResponse struct {
	SensorID   string          `json:"sensorId"`
	SensorType sensor.Type     `json:"sensorType"`
	Band       thresholds.Band `json:"band"`
	Override   bool            `json:"override"`
}

func sensorTypeParam(ctx echo.Context) (sensor.Type, error) {
	raw := ctx.Param("sensorType")
	t, ok := sensor.ParseType(raw)
	if !ok {
		return "", invalidParam("sensorType", "unknown sensor type %q", raw)
	}
	return t, nil
}

// GetThreshold returns the band used for a sensor
func (c *Controller) GetThreshold(ctx echo.Context) error {
	t, err := sensorTypeParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid sensor type")
	}
	sensorID := ctx.Param("sensorId")
	band, override, ok := c.engine.Threshold(sensorID, t)
	if !ok {
		err := errors.Newf("no threshold band for %s", t).
			Component("api").
			Category(errors.CategoryNotFound).
			Build()
		return c.HandleError(ctx, err, "Threshold not found")
	}
	return ctx.JSON(http.StatusOK, ThresholdResponse{
		SensorID:   sensorID,
		SensorType: t,
		Band:       band,
		Override:   override,
	})
}

// SetThreshold replaces a sensor's band override
func (c *Controller) SetThreshold(ctx echo.Context) error {
	t, err := sensorTypeParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid sensor type")
	}
	var band thresholds.Band
	if err := ctx.Bind(&band); err != nil {
		return c.HandleError(ctx, validationError(err, "band"), "Invalid threshold payload")
	}

	sensorID := ctx.Param("sensorId")
	if err := c.engine.SetThresholdOverride(sensorID, t, band); err != nil {
		return c.HandleError(ctx, err, "Threshold rejected")
	}
	return ctx.JSON(http.StatusOK, ThresholdResponse{
		SensorID:   sensorID,
		SensorType: t,
		Band:       band,
		Override:   true,
	})
}

// ClearThreshold removes a sensor's band override
func (c *Controller) ClearThreshold(ctx echo.Context) error {
	t, err := sensorTypeParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid sensor type")
	}
	if !c.engine.ClearThresholdOverride(ctx.Param("sensorId"), t) {
		err := errors.Newf("no override for %s", t).
			Component("api").
			Category(errors.CategoryNotFound).
			Build()
		return c.HandleError(ctx, err, "Threshold override not found")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// FaultRequest reports a failing node component
type FaultRequest struct {
	Component string `json:"component"`
	ErrorCode string `json:"errorCode"`
}

// ReportFault raises a system alert for a sensor node
func (c *Controller) ReportFault(ctx echo.Context) error {
	var req FaultRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, validationError(err, "body"), "Invalid fault payload")
	}
	if req.Component == "" {
		return c.HandleError(ctx, invalidParam("component", "component is required"), "Invalid fault payload")
	}
	a, err := c.engine.ReportSystemFault(ctx.Param("sensorId"), req.Component, req.ErrorCode)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to report fault")
	}
	return ctx.JSON(http.StatusOK, a)
}

// MaintenanceRequest names a task and when it was last done
type MaintenanceRequest struct {
	Task     thresholds.MaintenanceTask `json:"task"`
	LastDone time.Time                  `json:"lastDone"`
}

// MaintenanceResponse says whether a maintenance alert was raised
type MaintenanceResponse struct {
	Raised bool         `json:"raised"`
	Alert  *alert.Alert `json:"alert,omitempty"`
}

// CheckMaintenance raises a maintenance alert when the task is overdue
func (c *Controller) CheckMaintenance(ctx echo.Context) error {
	var req MaintenanceRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, validationError(err, "body"), "Invalid maintenance payload")
	}
	if req.LastDone.IsZero() {
		return c.HandleError(ctx, invalidParam("lastDone", "lastDone is required"), "Invalid maintenance payload")
	}
	a, raised, err := c.engine.CheckMaintenance(ctx.Param("sensorId"), req.Task, req.LastDone, time.Now())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to check maintenance")
	}
	resp := MaintenanceResponse{Raised: raised}
	if raised {
		resp.Alert = &a
	}
	return ctx.JSON(http.StatusOK, resp)
}
