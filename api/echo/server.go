package echo

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/hearthhome/hubauth/log"
)

// NewServer builds the echo engine with the auth API mounted and wraps it
// in an http.Server listening on addr. The caller owns Shutdown.
func NewServer(addr string, api *AuthAPI, logger log.Logger) *http.Server {
	if logger == nil {
		logger = log.NewZerolog()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(RequestLogger(logger))
	api.RegisterRoutes(e)

	return &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// RequestLogger logs one line per handled request through the structured
// logger, carrying the trace context of the request.
func RequestLogger(logger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			logger.Info(req.Context(), "Request handled", map[string]any{
				"method":  req.Method,
				"path":    req.URL.Path,
				"status":  c.Response().Status,
				"elapsed": time.Since(start).String(),
			})
			return err
		}
	}
}
