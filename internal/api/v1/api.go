// Package api implements the fieldwatch JSON API served under /api/v1.
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldwatch/internal/engine"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/privacy"
)

const (
	// Prefix is the mount point of every route
	Prefix = "/api/v1"

	// DefaultHeartbeat is the SSE keep-alive interval
	DefaultHeartbeat = 30 * time.Second

	maxStreamDuration = 30 * time.Minute
	sseWriteTimeout   = 10 * time.Second
)

func getLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Controller owns the API routes and the live alert streams
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	engine    *engine.Engine
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Controller
type Option func(*Controller)

// WithHeartbeat sets the SSE heartbeat and WebSocket ping interval
func WithHeartbeat(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// New registers the API routes on e
func New(e *echo.Echo, eng *engine.Engine, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:      e,
		Group:     e.Group(Prefix),
		engine:    eng,
		heartbeat: DefaultHeartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true // origin policy is applied by the CORS middleware
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.POST("/readings", c.PostReading)

	c.Group.GET("/alerts", c.ListAlerts)
	c.Group.GET("/alerts/unread", c.GetUnreadCount)
	c.Group.GET("/alerts/stream", c.StreamAlerts)
	c.Group.GET("/alerts/ws", c.AlertsWebSocket)
	c.Group.POST("/alerts/read-all", c.MarkAllRead)
	c.Group.GET("/alerts/:id", c.GetAlert)
	c.Group.POST("/alerts/:id/acknowledge", c.Acknowledge)
	c.Group.POST("/alerts/:id/resolve", c.Resolve)
	c.Group.POST("/alerts/:id/dismiss", c.Dismiss)
	c.Group.POST("/alerts/:id/read", c.MarkRead)

	c.Group.GET("/thresholds/:sensorId/:sensorType", c.GetThreshold)
	c.Group.PUT("/thresholds/:sensorId/:sensorType", c.SetThreshold)
	c.Group.DELETE("/thresholds/:sensorId/:sensorType", c.ClearThreshold)

	c.Group.POST("/sensors/:sensorId/faults", c.ReportFault)
	c.Group.POST("/sensors/:sensorId/maintenance", c.CheckMaintenance)
}

// Shutdown ends every open alert stream and waits for the handlers to return
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an error body with a fresh correlation id
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// StatusFor maps an error category onto an HTTP status
func StatusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryThreshold:
		return http.StatusUnprocessableEntity
	case errors.CategoryState, errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HandleError logs err and writes it with the status of its category
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := StatusFor(err)
	resp := NewErrorResponse(err, message, code)
	if rid := ctx.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
		resp.CorrelationID = rid
	}

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", privacy.AnonymizeIP(ctx.RealIP())),
		logger.Int("code", code),
		logger.Error(err),
	}
	log := getLogger().WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Debug(message, fields...)
	}
	return ctx.JSON(code, resp)
}

// validationError marks a malformed request
func validationError(err error, field string) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}

func invalidParam(field, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("api").
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}
