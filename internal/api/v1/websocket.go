package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/privacy"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 512
)

// streamEvent is the frame written to WebSocket observers
type streamEvent struct {
	Type  string       `json:"type"`
	Event *alert.Event `json:"event,omitempty"`
}

// AlertsWebSocket streams lifecycle events over a WebSocket connection.
// Clients only need to answer pings; anything they send is discarded.
func (c *Controller) AlertsWebSocket(ctx echo.Context) error {
	observerID := "ws-" + uuid.NewString()
	events, observerCtx, err := c.engine.Subscribe(observerID)
	if err != nil {
		return c.HandleError(ctx, err, "Alert stream not available")
	}
	defer c.engine.Unsubscribe(observerID)

	ws, err := c.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		getLogger().Debug("websocket upgrade failed", logger.Error(err))
		return nil
	}
	defer ws.Close()

	c.wg.Add(1)
	defer c.wg.Done()

	log := getLogger().With(
		logger.String("observer_id", observerID),
		logger.String("ip", privacy.AnonymizeIP(ctx.RealIP())))
	log.Info("alert websocket client connected")
	defer log.Info("alert websocket client disconnected")

	pongWait := 2 * c.heartbeat
	closed := make(chan struct{})
	go readPump(ws, pongWait, closed)

	ping := time.NewTicker(c.heartbeat)
	defer ping.Stop()

	if err := writeFrame(ws, streamEvent{Type: "connected"}); err != nil {
		return nil
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				closeConn(ws, websocket.ClosePolicyViolation, "observer disconnected")
				return nil
			}
			if err := writeFrame(ws, streamEvent{Type: string(ev.Type), Event: &ev}); err != nil {
				log.Debug("websocket write failed", logger.Error(err))
				return nil
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-observerCtx.Done():
			closeConn(ws, websocket.CloseGoingAway, "observer disconnected")
			return nil
		case <-c.ctx.Done():
			closeConn(ws, websocket.CloseGoingAway, "server shutting down")
			return nil
		}
	}
}

// readPump keeps the read deadline moving on pongs and signals when the
// peer goes away.
func readPump(ws *websocket.Conn, pongWait time.Duration, closed chan<- struct{}) {
	defer close(closed)

	ws.SetReadLimit(wsMaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLogger().Debug("websocket read failed", logger.Error(err))
			}
			return
		}
	}
}

func writeFrame(ws *websocket.Conn, frame streamEvent) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(frame)
}

func closeConn(ws *websocket.Conn, code int, text string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(wsWriteWait))
}
