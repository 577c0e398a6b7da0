package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/privacy"
)

// StreamAlerts streams lifecycle events as Server-Sent Events. Each event
// carries the event id so clients can deduplicate after a reconnect.
func (c *Controller) StreamAlerts(ctx echo.Context) error {
	observerID := "sse-" + uuid.NewString()
	events, observerCtx, err := c.engine.Subscribe(observerID)
	if err != nil {
		return c.HandleError(ctx, err, "Alert stream not available")
	}
	defer c.engine.Unsubscribe(observerID)

	c.wg.Add(1)
	defer c.wg.Done()

	log := getLogger().With(
		logger.String("observer_id", observerID),
		logger.String("ip", privacy.AnonymizeIP(ctx.RealIP())))
	log.Info("alert stream client connected")
	defer log.Info("alert stream client disconnected")

	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	ctx.Response().WriteHeader(http.StatusOK)

	if err := c.sendSSE(ctx, "", "connected", map[string]string{"observerId": observerID}); err != nil {
		return nil
	}

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	deadline := time.NewTimer(maxStreamDuration)
	defer deadline.Stop()

	reqCtx := ctx.Request().Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.sendSSE(ctx, ev.ID, string(ev.Type), ev); err != nil {
				log.Debug("alert stream write failed", logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := c.sendSSE(ctx, "", "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return nil
			}
		case <-deadline.C:
			return nil
		case <-reqCtx.Done():
			return nil
		case <-observerCtx.Done():
			return nil
		case <-c.ctx.Done():
			return nil
		}
	}
}

func (c *Controller) sendSSE(ctx echo.Context, id, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(ctx.Response().Writer)
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))

	w := ctx.Response()
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	return rc.Flush()
}
