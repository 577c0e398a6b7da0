package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldwatch/internal/sensor"
)

// RejectionResponse is returned for readings the validator refused
type RejectionResponse struct {
	Accepted bool                `json:"accepted"`
	Reason   sensor.RejectReason `json:"reason"`
	Error    string              `json:"error"`
}

// PostReading ingests one reading
func (c *Controller) PostReading(ctx echo.Context) error {
	var r sensor.Reading
	if err := ctx.Bind(&r); err != nil {
		return c.HandleError(ctx, validationError(err, "body"), "Invalid reading payload")
	}

	res, err := c.engine.Ingest(ctx.Request().Context(), r)
	if err != nil {
		if reason := sensor.ReasonOf(err); reason != "" {
			return ctx.JSON(http.StatusBadRequest, RejectionResponse{
				Reason: reason,
				Error:  err.Error(),
			})
		}
		return c.HandleError(ctx, err, "Failed to ingest reading")
	}
	return ctx.JSON(http.StatusOK, res)
}
