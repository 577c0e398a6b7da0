package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// headerLastEventID is sent by EventSource clients when they reconnect.
const headerLastEventID = "Last-Event-ID"

// Policy describes the browser facing protections applied to every route.
type Policy struct {
	Origins []string // CORS origins; empty means any
	// BodyLimit caps request bodies, e.g. "64K". Readings and threshold
	// updates are small so the limit stays tight.
	BodyLimit string
	// Streams lists long-lived routes the body limit must not wrap.
	Streams []string
}

// Apply installs CORS, secure headers and the body limit on e.
func Apply(e *echo.Echo, p Policy) {
	origins := p.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAccept, headerLastEventID},
		ExposeHeaders: []string{echo.HeaderXRequestID},
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "no-referrer",
	}))

	if p.BodyLimit != "" {
		e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
			Limit: p.BodyLimit,
			Skipper: func(c echo.Context) bool {
				return slices.Contains(p.Streams, c.Request().URL.Path)
			},
		}))
	}
}
