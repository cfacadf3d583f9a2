package router

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ErrorHandler renders every error as {"ok":false,"error":...}. Errors that
// are not *echo.HTTPError are logged and reported as a bare 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := "internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
			if he.Internal != nil {
				logger.Debug().Err(he.Internal).Int("status", code).Str("route", c.Path()).Msg("Request rejected")
			}
		} else {
			logger.Error().Err(err).Str("route", c.Path()).Msg("Request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, errorResponse{OK: false, Error: msg})
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("Failed to write error response")
		}
	}
}
