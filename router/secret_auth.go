package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

var errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")

// secretAuth guards routes that carry the shared secret as the :secret path
// parameter.
func (s *State) secretAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := s.verifySecret(c.Param("secret")); err != nil {
			return err
		}
		return next(c)
	}
}

func (s *State) verifySecret(provided string) error {
	if !s.Secret.Verify(provided) {
		return errUnauthorized
	}
	return nil
}
