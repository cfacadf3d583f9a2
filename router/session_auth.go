package router

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/hkdf"

	"github.com/pushrelay/server/types"
)

const (
	sessionSubject = "operator"
	sessionKeyInfo = "pushrelay operator session v1"
)

// sessionSigningKey derives the HMAC key for operator tokens from the
// shared secret. The raw secret never signs anything.
func sessionSigningKey(secret string) ([]byte, error) {
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sessionKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// newSessionToken signs an operator token with a key derived from the shared
// secret, so replacing the secret file revokes every outstanding session.
func (s *State) newSessionToken(now time.Time) (string, time.Time, error) {
	secret, err := s.Secret.Secret()
	if err != nil {
		return "", time.Time{}, err
	}
	key, err := sessionSigningKey(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(s.SessionTTL)
	claims := jwt.RegisteredClaims{
		Subject:   sessionSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *State) sessionKey(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	secret, err := s.Secret.Secret()
	if err != nil {
		return nil, err
	}
	return sessionSigningKey(secret)
}

// sessionAuth accepts "Authorization: Bearer <token>" issued by postSession.
func (s *State) sessionAuth() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		KeyFunc: s.sessionKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(jwt.RegisteredClaims)
		},
		SuccessHandler: func(c echo.Context) {
			s.Logger.Debug().Str("route", c.Path()).Msg("Operator session accepted")
		},
		ErrorHandler: func(c echo.Context, err error) error {
			s.Logger.Debug().Err(err).Str("route", c.Path()).Msg("Operator session rejected")
			return errUnauthorized
		},
	})
}

func (s *State) postSession(c echo.Context) error {
	var req types.SessionRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := s.verifySecret(req.Secret); err != nil {
		return err
	}
	token, expiresAt, err := s.newSessionToken(time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, types.SessionResponse{Token: token, ExpiresAt: expiresAt.UTC()})
}
