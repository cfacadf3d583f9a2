package router

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger logs one line per request. It records the route pattern
// rather than the URI so secrets in path parameters never reach the log.
func RequestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogRoutePath: true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Status >= 500 {
				ev = logger.Error()
			}
			ev.Str("method", v.Method).
				Str("route", v.RoutePath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Str("remote_ip", v.RemoteIP).
				AnErr("error", v.Error).
				Msg("request")
			return nil
		},
	})
}
